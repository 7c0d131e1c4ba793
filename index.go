package instore

// pkSet is a set of primary keys.
type pkSet map[string]struct{}

func (s pkSet) clone() pkSet {
	out := make(pkSet, len(s))
	for pk := range s {
		out[pk] = struct{}{}
	}
	return out
}

func (s pkSet) intersect(other pkSet) pkSet {
	out := make(pkSet)
	for pk := range s {
		if _, ok := other[pk]; ok {
			out[pk] = struct{}{}
		}
	}
	return out
}

// namespaceIndex is the dual inverted index kept per namespace: label key →
// label value → primary keys, and guid → primary keys. It is maintained
// synchronously with every record mutation so it exactly mirrors live
// records. Indexing is sparse: records that lack a label key simply do not
// appear under it.
type namespaceIndex struct {
	labels map[string]map[any]pkSet
	guids  map[string]pkSet
}

func newNamespaceIndex() *namespaceIndex {
	return &namespaceIndex{
		labels: make(map[string]map[any]pkSet),
		guids:  make(map[string]pkSet),
	}
}

// find returns the primary keys matching every given constraint, ANDed. A
// guid of "" means unconstrained. With no constraints at all the caller is
// expected to fall back to "all records", which the index cannot answer, so
// find returns nil in that case. Any constraint whose bucket is absent
// collapses the result to empty. The returned set is a copy.
func (ix *namespaceIndex) find(guid string, labels Labels) pkSet {
	if guid == "" && len(labels) == 0 {
		return nil
	}

	var matching pkSet
	if guid != "" {
		bucket, ok := ix.guids[guid]
		if !ok {
			return pkSet{}
		}
		matching = bucket.clone()
	}

	for key, value := range labels {
		byValue, ok := ix.labels[key]
		if !ok {
			return pkSet{}
		}
		bucket, ok := byValue[value]
		if !ok {
			return pkSet{}
		}
		if matching == nil {
			matching = bucket.clone()
		} else {
			matching = matching.intersect(bucket)
		}
	}
	return matching
}

// index inserts a primary key under its guid and every label pair, creating
// buckets as needed.
func (ix *namespaceIndex) index(pk string, guid string, labels Labels) {
	bucket, ok := ix.guids[guid]
	if !ok {
		bucket = make(pkSet)
		ix.guids[guid] = bucket
	}
	bucket[pk] = struct{}{}

	for key, value := range labels {
		byValue, ok := ix.labels[key]
		if !ok {
			byValue = make(map[any]pkSet)
			ix.labels[key] = byValue
		}
		set, ok := byValue[value]
		if !ok {
			set = make(pkSet)
			byValue[value] = set
		}
		set[pk] = struct{}{}
	}
}

// deindex removes a primary key from its guid and label buckets, pruning
// buckets that become empty to bound memory growth.
func (ix *namespaceIndex) deindex(pk string, guid string, labels Labels) {
	if bucket, ok := ix.guids[guid]; ok {
		delete(bucket, pk)
		if len(bucket) == 0 {
			delete(ix.guids, guid)
		}
	}

	for key, value := range labels {
		byValue, ok := ix.labels[key]
		if !ok {
			continue
		}
		set, ok := byValue[value]
		if !ok {
			continue
		}
		delete(set, pk)
		if len(set) == 0 {
			delete(byValue, value)
		}
		if len(byValue) == 0 {
			delete(ix.labels, key)
		}
	}
}
