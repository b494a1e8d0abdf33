package simwire

import "fmt"

// Instance is one repetition's worth of decoded or to-be-encoded variable
// values, keyed by variable name.
type Instance = map[string]interface{}

// encodeBlocks walks t's blocks in declared order, encoding each
// repetition's variables from values. A RepeatVariable block's repeat
// count is written as a single length-prefix byte ahead of its instances.
func encodeBlocks(t *Template, values map[string][]Instance) ([]byte, error) {
	var out []byte

	for bi := range t.Blocks {
		blk := &t.Blocks[bi]
		reps := values[blk.Name]

		switch blk.Repeat {
		case RepeatSingle:
			if len(reps) != 1 {
				return nil, fmt.Errorf("simwire: block %q: want 1 instance, got %d", blk.Name, len(reps))
			}
		case RepeatFixed:
			if len(reps) != blk.Count {
				return nil, fmt.Errorf("simwire: block %q: want %d instances, got %d", blk.Name, blk.Count, len(reps))
			}
		case RepeatVariable:
			if len(reps) > 0xFF {
				return nil, fmt.Errorf("simwire: block %q: too many instances to encode count byte: %d", blk.Name, len(reps))
			}
			out = append(out, byte(len(reps)))
		}

		for _, inst := range reps {
			for _, v := range blk.Vars {
				val, ok := inst[v.Name]
				if !ok {
					return nil, fmt.Errorf("simwire: block %q: missing variable %q", blk.Name, v.Name)
				}
				var err error
				out, err = encodeValue(out, v.Type, v.FixedLen, val)
				if err != nil {
					return nil, fmt.Errorf("simwire: block %q: variable %q: %w", blk.Name, v.Name, err)
				}
			}
		}
	}

	return out, nil
}

// decodeBlocks is the inverse of encodeBlocks: it consumes payload
// according to t's declared block/variable layout and returns one
// Instance slice per block name, plus any bytes left over after the last
// declared block. dispatchOne strips the ACK trailer before calling this
// and ignores the leftover bytes.
func decodeBlocks(t *Template, payload []byte) (map[string][]Instance, []byte, error) {
	out := make(map[string][]Instance, len(t.Blocks))
	rest := payload

	for bi := range t.Blocks {
		blk := &t.Blocks[bi]

		count := 1
		switch blk.Repeat {
		case RepeatFixed:
			count = blk.Count
		case RepeatVariable:
			if len(rest) < 1 {
				return nil, nil, fmt.Errorf("simwire: block %q: missing repeat count: %w", blk.Name, errShortValue)
			}
			count = int(rest[0])
			rest = rest[1:]
		}

		insts := make([]Instance, 0, count)
		for r := 0; r < count; r++ {
			inst := make(Instance, len(blk.Vars))
			for _, v := range blk.Vars {
				val, next, err := decodeValue(rest, v.Type, v.FixedLen)
				if err != nil {
					return nil, nil, fmt.Errorf("simwire: block %q: variable %q: %w", blk.Name, v.Name, err)
				}
				inst[v.Name] = val
				rest = next
			}
			insts = append(insts, inst)
		}
		out[blk.Name] = insts
	}

	return out, rest, nil
}
