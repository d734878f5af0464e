package models

// Merge combines a primary record (normally WebSocket) with a fallback
// (normally a REST snapshot) of the same vendor and data type. Vendor supplied
// fields of the primary win; gaps are filled from the fallback. A derived
// timestamp is replaced when the fallback carries a vendor timestamp.
// Coverage is recomputed against the union. When the records describe
// different vendors or data types the fallback is ignored.
func Merge(primary, fallback *NormalizedRecord) *NormalizedRecord {
	switch {
	case primary == nil && fallback == nil:
		return nil
	case primary == nil:
		return fallback.Clone()
	case fallback == nil:
		return primary.Clone()
	}
	if primary.Vendor != fallback.Vendor || primary.DataType != fallback.DataType {
		return primary.Clone()
	}

	members := primary.members
	if len(members) == 0 {
		members = fallback.members
	}
	src := primary.SourceType
	if fallback.SourceType != primary.SourceType {
		src = SourceBoth
	}
	out := NewRecord(primary.Vendor, primary.DataType, src, members)

	for f, v := range primary.Fields {
		if !primary.IsDerived(f) {
			out.Set(f, v)
		}
	}
	for f, v := range fallback.Fields {
		if fallback.IsDerived(f) || out.Mapped(f) {
			continue
		}
		out.Set(f, v)
	}

	for _, rec := range []*NormalizedRecord{primary, fallback} {
		for _, f := range rec.Derived {
			if _, ok := out.Fields[f]; !ok {
				out.Derive(f, rec.Fields[f])
			}
		}
		for f := range rec.unresolved {
			if !out.Mapped(f) {
				out.MarkUnresolved(f)
			}
		}
	}

	out.Finalize()
	return out
}
