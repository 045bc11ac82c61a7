// Package ebid implements PEPPER's ephemeral identifier (C2): a 32-byte
// value sliced into three 12-byte data slices (the third padded) plus a
// 12-byte XOR parity slice, reconstructible from any three of the four.
package ebid

import "fmt"

const (
	// SliceSize is the storage width of every slice, including the
	// trailing padding carried by slice 3.
	SliceSize = 12
	// ShortSliceSize is the number of meaningful bytes in slice 3; the
	// remaining SliceSize-ShortSliceSize bytes are don't-care and stored
	// zero.
	ShortSliceSize = 8
	// padLen is the number of trailing don't-care bytes following slice
	// 3's meaningful data in storage and on the wire.
	padLen = SliceSize - ShortSliceSize
	// Size is the length of a fully reconstructed EBID.
	Size = 32
)

// Part identifies one of the four reconstructible quantities.
type Part int

const (
	Slice1 Part = iota
	Slice2
	Slice3
	XOR
	numParts
)

// ReconstructResult reports the outcome of an attempt to derive a missing
// part from the other three.
type ReconstructResult int

const (
	ReconstructOK ReconstructResult = iota
	ReconstructNeedMore
	ReconstructFail
)

// status is a bitmask of which parts are currently populated.
type status uint8

const (
	hasSlice1 status = 1 << iota
	hasSlice2
	hasSlice3
	hasXOR
	hasAll = hasSlice1 | hasSlice2 | hasSlice3 | hasXOR
)

// EBID is the per-epoch ephemeral identifier assembled from peer slices
// (or generated locally from a public key).
type EBID struct {
	parts  [numParts][SliceSize]byte
	status status
}

// Init returns a freshly cleared EBID with no parts populated.
func Init() *EBID {
	return &EBID{}
}

// GenerateFrom populates all four parts from a 32-byte public key: the
// three data slices are the key split into 12+12+8 bytes (slice 3
// trailing-padded to 12), and XOR is their bitwise XOR.
func GenerateFrom(pk [32]byte) *EBID {
	e := Init()
	copy(e.parts[Slice1][:], pk[0:12])
	copy(e.parts[Slice2][:], pk[12:24])
	copy(e.parts[Slice3][:ShortSliceSize], pk[24:32])
	e.status = hasSlice1 | hasSlice2 | hasSlice3

	var x [SliceSize]byte
	for i := range x {
		x[i] = e.parts[Slice1][i] ^ e.parts[Slice2][i] ^ e.parts[Slice3][i]
	}
	e.parts[XOR] = x
	e.status |= hasXOR
	return e
}

// bitFor maps a Part to its status bit.
func bitFor(p Part) status {
	switch p {
	case Slice1:
		return hasSlice1
	case Slice2:
		return hasSlice2
	case Slice3:
		return hasSlice3
	case XOR:
		return hasXOR
	default:
		panic(fmt.Sprintf("ebid: invalid part %d", p))
	}
}

// SetSlice stores a part's 12-byte storage form directly (used for slice1,
// slice2, and xor, which carry no wire padding).
func (e *EBID) SetSlice(p Part, data [SliceSize]byte) {
	e.parts[p] = data
	e.status |= bitFor(p)
}

// SetSlice3Wire accepts the 8-byte wire form of slice 3 and stores it with
// the trailing padLen bytes zeroed, matching the reference implementation's
// storage layout.
func (e *EBID) SetSlice3Wire(data [ShortSliceSize]byte) {
	var padded [SliceSize]byte
	copy(padded[:ShortSliceSize], data[:])
	e.parts[Slice3] = padded
	e.status |= hasSlice3
}

// GetSlice returns a part's stored 12-byte form and whether it is present.
func (e *EBID) GetSlice(p Part) (data [SliceSize]byte, ok bool) {
	return e.parts[p], e.status&bitFor(p) != 0
}

// IsComplete reports whether all four parts are present.
func (e *EBID) IsComplete() bool {
	return e.status == hasAll
}

// Reconstruct derives a single missing part from the other three via XOR,
// if exactly three parts are present. It is a no-op (returning
// ReconstructOK) if all four are already present.
func (e *EBID) Reconstruct() ReconstructResult {
	if e.status == hasAll {
		return ReconstructOK
	}

	present := 0
	var missing Part
	for p := Part(0); p < numParts; p++ {
		if e.status&bitFor(p) != 0 {
			present++
		} else {
			missing = p
		}
	}

	if present != 3 {
		return ReconstructNeedMore
	}

	var derived [SliceSize]byte
	for i := range derived {
		var v byte
		for p := Part(0); p < numParts; p++ {
			if p == missing {
				continue
			}
			v ^= e.parts[p][i]
		}
		derived[i] = v
	}
	e.parts[missing] = derived
	e.status |= bitFor(missing)
	return ReconstructOK
}

// GetFull returns the 32-byte reconstructed EBID (slice1 ∥ slice2 ∥
// slice3[:ShortSliceSize]). It requires IsComplete to be true.
func (e *EBID) GetFull() ([Size]byte, error) {
	if !e.IsComplete() {
		return [Size]byte{}, fmt.Errorf("ebid: not complete")
	}
	var full [Size]byte
	copy(full[0:12], e.parts[Slice1][:])
	copy(full[12:24], e.parts[Slice2][:])
	copy(full[24:32], e.parts[Slice3][:ShortSliceSize])
	return full, nil
}

// Compare performs a byte-wise lexicographic comparison of two complete
// EBIDs' full 32-byte form, returning <0, 0, or >0 analogous to
// bytes.Compare.
func Compare(a, b *EBID) (int, error) {
	fa, err := a.GetFull()
	if err != nil {
		return 0, err
	}
	fb, err := b.GetFull()
	if err != nil {
		return 0, err
	}
	for i := range fa {
		if fa[i] != fb[i] {
			if fa[i] < fb[i] {
				return -1, nil
			}
			return 1, nil
		}
	}
	return 0, nil
}
