package events

import "reflect"

// route is one key a published type is delivered under.
type route struct {
	key reflect.Type
	// index is the path of an embedded field; nil delivers the event itself.
	index []int
}

func (r route) extract(v reflect.Value) (any, bool) {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}
	f, err := v.FieldByIndexErr(r.index)
	if err != nil || !f.CanInterface() {
		return nil, false
	}
	if f.Kind() == reflect.Pointer && f.IsNil() {
		return nil, false
	}
	return f.Interface(), true
}

// routesFor returns the cached delivery keys of t: t itself, then its
// exported embedded structs (shallowest first), then every subscribed
// interface t implements.
func (b *Bus) routesFor(t reflect.Type) []route {
	if rs, ok := b.routes[t]; ok {
		return rs
	}
	rs := []route{{key: t}}
	if b.opts.InheritanceDispatch {
		rs = appendEmbedded(rs, t)
		for iface := range b.ifaces {
			if iface != t && t.Implements(iface) {
				rs = append(rs, route{key: iface})
			}
		}
	}
	b.routes[t] = rs
	return rs
}

func appendEmbedded(rs []route, t reflect.Type) []route {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return rs
	}
	seen := map[reflect.Type]bool{t: true}
	type level struct {
		t     reflect.Type
		index []int
	}
	queue := []level{{t: t}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for i := 0; i < cur.t.NumField(); i++ {
			f := cur.t.Field(i)
			if !f.Anonymous || !f.IsExported() || seen[f.Type] {
				continue
			}
			seen[f.Type] = true
			index := append(append([]int(nil), cur.index...), i)
			rs = append(rs, route{key: f.Type, index: index})
			inner := f.Type
			if inner.Kind() == reflect.Pointer {
				inner = inner.Elem()
			}
			if inner.Kind() == reflect.Struct {
				queue = append(queue, level{t: inner, index: index})
			}
		}
	}
	return rs
}
