// Package cmap provides a string-keyed map split into independently
// locked shards.
//
// The storage layer keeps one entry per (tenant, farmer) partition in it,
// so lookups for different partitions rarely contend:
//
//	m := cmap.New[*writer]()
//	w := m.Update("A/f1", func(cur *writer, ok bool) *writer { ... })
package cmap
