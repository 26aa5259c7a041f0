package router

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/petrijr/hexflow/pkg/api"
)

// tokenParam is the query parameter carrying the workflow token.
const tokenParam = "workflow_token"

// forwardFields computes the data handed from one step to the next according
// to the first mapping declared for the transition.
func forwardFields(g *api.WorkflowGraph, rec *api.SessionRecord, from, to string) []api.Field {
	m, ok := g.Mapping(from, to)
	if !ok {
		return nil
	}

	var fields []api.Field
	if m.Fields.All {
		fields = rec.Flatten()
	} else {
		data, _ := rec.Step(from)
		seen := make(map[string]bool, len(m.Fields.Names))
		for _, name := range m.Fields.Names {
			v, ok := data[name]
			if !ok || seen[name] {
				continue
			}
			seen[name] = true
			fields = append(fields, api.Field{Name: name, Value: v})
		}
	}

	// The token parameter always comes from the session.
	out := fields[:0]
	for _, f := range fields {
		if f.Name != tokenParam {
			out = append(out, f)
		}
	}
	return out
}

// stepURL builds the redirect to a step application. The token is always the
// first parameter; forwarded fields follow in order, list values repeating
// their key.
func stepURL(scheme, host string, port int, token string, fields []api.Field) string {
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(net.JoinHostPort(host, strconv.Itoa(port)))
	b.WriteString("?" + tokenParam + "=")
	b.WriteString(url.QueryEscape(token))
	for _, f := range fields {
		key := url.QueryEscape(f.Name)
		for _, v := range f.Value.Values() {
			b.WriteByte('&')
			b.WriteString(key)
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}
