package comm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/blockforest/blockforest/sim/nodeid"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("comm: cbor encoder: %v", err))
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("comm: cbor decoder: %v", err))
	}
}

// Encode serialises a wire record.
func Encode(record any) []byte {
	data, err := encMode.Marshal(record)
	if err != nil {
		panic(fmt.Sprintf("comm: encoding %T: %v", record, err))
	}
	return data
}

// Decode fills record from data. A payload that does not decode into the
// expected record type is a divergence between ranks and panics.
func Decode(data []byte, record any) {
	if err := decMode.Unmarshal(data, record); err != nil {
		panic(fmt.Sprintf("comm: decoding %T: %v", record, err))
	}
}

// ConservativesRecord carries whole fields of one buffer (all cells, ghost
// cells included), one entry per equation or prime state.
type ConservativesRecord struct {
	Fields [][]float64 `cbor:"1,keyasint"`
}

// Expect panics unless the record holds fields × cells values.
func (r *ConservativesRecord) Expect(fields, cells int) {
	expectGrid("conservatives", r.Fields, fields, cells)
}

// FieldSliceRecord carries the ghost-layer slab of one face, one entry per
// field, ordered by layer then face position.
type FieldSliceRecord struct {
	Values [][]float64 `cbor:"1,keyasint"`
}

// Expect panics unless the record holds fields × cells values.
func (r *FieldSliceRecord) Expect(fields, cells int) {
	expectGrid("field slice", r.Values, fields, cells)
}

// JumpSurfaceRecord carries one face of a surface buffer.
type JumpSurfaceRecord struct {
	Face   int         `cbor:"1,keyasint"`
	Values [][]float64 `cbor:"2,keyasint"`
}

// Expect panics unless the record is for the given face and holds
// fields × cells values.
func (r *JumpSurfaceRecord) Expect(face, fields, cells int) {
	if r.Face != face {
		panic(fmt.Sprintf("comm: jump surface for face %d, expected face %d", r.Face, face))
	}
	expectGrid("jump surface", r.Values, fields, cells)
}

// InterfaceTagRecord carries the interface tags of one node or one slab.
type InterfaceTagRecord struct {
	Tags []int8 `cbor:"1,keyasint"`
}

// Expect panics unless the record holds n tags.
func (r *InterfaceTagRecord) Expect(n int) {
	if len(r.Tags) != n {
		panic(fmt.Sprintf("comm: interface tag record has %d tags, expected %d", len(r.Tags), n))
	}
}

// IDListRecord carries node ids, used by the all-gather of intents and
// remesh decisions.
type IDListRecord struct {
	IDs []uint64 `cbor:"1,keyasint"`
}

func expectGrid(name string, values [][]float64, fields, cells int) {
	if len(values) != fields {
		panic(fmt.Sprintf("comm: %s record has %d fields, expected %d", name, len(values), fields))
	}
	for i, v := range values {
		if len(v) != cells {
			panic(fmt.Sprintf("comm: %s record field %d has %d values, expected %d", name, i, len(v), cells))
		}
	}
}

// AllGatherIDs concatenates the id lists of all ranks in rank order.
func AllGatherIDs(c Communicator, ids []nodeid.ID) []nodeid.ID {
	rec := IDListRecord{IDs: make([]uint64, len(ids))}
	for i, id := range ids {
		rec.IDs[i] = uint64(id)
	}
	var out []nodeid.ID
	for _, payload := range c.AllGather(Encode(&rec)) {
		var got IDListRecord
		Decode(payload, &got)
		for _, id := range got.IDs {
			out = append(out, nodeid.ID(id))
		}
	}
	return out
}
