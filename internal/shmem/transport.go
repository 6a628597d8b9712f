package shmem

// Payload is what an RPC call carries for a single large-payload field:
// either Inline bytes, or a Handle into a shared region (never both).
// Handle is the zero value when the payload was sent inline.
type Payload struct {
	Inline []byte
	Handle *Handle
}

// WriteOrInline decides how to send payload: if it is at or under
// threshold, or region is nil, or the region has no room, it is sent
// inline; otherwise it is written to region and referenced by handle
// (spec §6: "large payloads ... are written to a named shared region").
func WriteOrInline(region *Region, payload []byte, threshold int) Payload {
	if region == nil || len(payload) <= threshold {
		return Payload{Inline: payload}
	}
	handle, err := region.Write(payload)
	if err != nil {
		return Payload{Inline: payload}
	}
	return Payload{Handle: &handle}
}

// ReadOrFallback resolves p: if it carries inline bytes, those are
// returned directly. Otherwise its handle is read from region; if
// region is nil or the handle's region_id does not match the attached
// region, ok is false and the caller must fall back to requesting the
// payload inline over the ordinary RPC channel (spec §6: "on mismatch,
// falls back to inline").
func ReadOrFallback(region *Region, p Payload) (data []byte, ok bool, err error) {
	if p.Handle == nil {
		return p.Inline, true, nil
	}
	if region == nil {
		return nil, false, nil
	}
	data, err = region.Read(*p.Handle)
	if err == ErrRegionMismatch {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}
