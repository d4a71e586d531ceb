package packet

// Fragment splits a payload into the minimum number of packets that fit the
// radio's single-transmission limit. All fragments share the given sequence
// number; fragment indexes are zero-based.
func Fragment(t Type, src, dst byte, seq uint8, payload []byte) ([]Packet, error) {
	total := (len(payload) + MaxFragmentPayload - 1) / MaxFragmentPayload
	if total == 0 {
		total = 1
	}
	if total > 255 {
		return nil, ErrPayloadTooLarge
	}

	packets := make([]Packet, 0, total)
	for i := 0; i < total; i++ {
		start := i * MaxFragmentPayload
		end := min(start+MaxFragmentPayload, len(payload))
		packets = append(packets, Packet{
			Src:       src,
			Dst:       dst,
			Type:      t,
			Seq:       seq,
			FragIndex: uint8(i),
			FragTotal: uint8(total),
			Payload:   payload[start:end],
		})
	}
	return packets, nil
}

type reassemblyKey struct {
	src byte
	typ Type
	seq uint8
}

type reassemblyBuffer struct {
	parts [][]byte
	have  int
	age   int
}

// Reassembler accumulates fragments by source and sequence number until a
// full message is collected. Buffers not completed within maxAge sweeps are
// dropped so a lost fragment cannot pin memory forever. Completed keys are
// remembered for the same window, so a retransmitted fragment set cannot
// deliver the message a second time.
type Reassembler struct {
	maxAge  int
	buffers map[reassemblyKey]*reassemblyBuffer
	done    map[reassemblyKey]int
}

// NewReassembler returns a Reassembler whose incomplete buffers survive
// maxAge calls to Sweep.
func NewReassembler(maxAge int) *Reassembler {
	if maxAge < 1 {
		maxAge = 1
	}
	return &Reassembler{
		maxAge:  maxAge,
		buffers: make(map[reassemblyKey]*reassemblyBuffer),
		done:    make(map[reassemblyKey]int),
	}
}

// Add feeds one packet in. It returns the concatenated payload once all
// fragments of the message have arrived, and ErrIncompleteMessage while
// fragments are still pending. Duplicate fragments are ignored, not errors;
// fragments of a message already delivered are swallowed the same way.
// Fragments may arrive in any order.
func (r *Reassembler) Add(p Packet) ([]byte, error) {
	if p.FragTotal == 0 || p.FragIndex >= p.FragTotal {
		return nil, ErrMalformed
	}
	if p.FragTotal == 1 {
		return p.Payload, nil
	}

	key := reassemblyKey{src: p.Src, typ: p.Type, seq: p.Seq}
	if _, delivered := r.done[key]; delivered {
		r.done[key] = 0
		return nil, ErrIncompleteMessage
	}
	buf, ok := r.buffers[key]
	if ok && len(buf.parts) != int(p.FragTotal) {
		// Same sequence number reused with a different fragment count;
		// the old buffer can never complete.
		delete(r.buffers, key)
		ok = false
	}
	if !ok {
		buf = &reassemblyBuffer{parts: make([][]byte, p.FragTotal)}
		r.buffers[key] = buf
	}
	buf.age = 0

	if buf.parts[p.FragIndex] == nil {
		buf.parts[p.FragIndex] = p.Payload
		buf.have++
	}
	if buf.have < len(buf.parts) {
		return nil, ErrIncompleteMessage
	}

	delete(r.buffers, key)
	r.done[key] = 0
	var size int
	for _, part := range buf.parts {
		size += len(part)
	}
	payload := make([]byte, 0, size)
	for _, part := range buf.parts {
		payload = append(payload, part...)
	}
	return payload, nil
}

// Sweep ages incomplete buffers and frees the ones that exceeded the bound.
// The controller calls it once per cycle. It reports how many buffers were
// dropped. Completed-key memory ages out on the same schedule, after which a
// reused sequence number is treated as a new message.
func (r *Reassembler) Sweep() int {
	dropped := 0
	for key, buf := range r.buffers {
		buf.age++
		if buf.age >= r.maxAge {
			delete(r.buffers, key)
			dropped++
		}
	}
	for key, age := range r.done {
		if age+1 >= r.maxAge {
			delete(r.done, key)
		} else {
			r.done[key] = age + 1
		}
	}
	return dropped
}

// Pending reports how many incomplete messages are buffered.
func (r *Reassembler) Pending() int {
	return len(r.buffers)
}
