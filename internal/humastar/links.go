package humastar

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// Links holds RFC 8288 Link header values derived from an OpenAPI
// document, keyed by operation path.
type Links struct {
	byPath map[string][]string
}

// AutoLinks walks the OpenAPI document of api and derives hypermedia links
// between its resources. Operations tagged with any of skipTags (for
// example SSE endpoints) are left out. Call after all routes are
// registered.
func AutoLinks(api huma.API, skipTags ...string) *Links {
	oapi := api.OpenAPI()
	l := &Links{byPath: map[string][]string{}}

	var collections, items []string
	tags := map[string][]string{}
	for p, pi := range oapi.Paths {
		t := primaryTags(pi)
		if slices.ContainsFunc(t, func(tag string) bool { return slices.Contains(skipTags, tag) }) {
			continue
		}
		tags[p] = t
		if strings.Contains(p, "{") {
			items = append(items, p)
		} else {
			collections = append(collections, p)
		}
	}
	slices.Sort(collections)
	slices.Sort(items)

	// Item → collection, and collection → item template.
	for _, item := range items {
		parent := path.Dir(item)
		if _, ok := tags[parent]; ok {
			l.add(item, parent, "collection")
			l.add(item, parent, "up")
			l.add(parent, item, "item")
		}
	}

	_, hasQuery := tags["/api/v1/query"]
	for _, coll := range collections {
		if coll == "/health" {
			continue
		}
		l.add(coll, "/health", "up")
		if hasQuery && coll != "/api/v1/query" {
			l.add(coll, "/api/v1/query", "search")
		}
		// Cross-link collections sharing a tag.
		for _, other := range collections {
			if other != coll && other != "/health" && sharedTag(tags[coll], tags[other]) {
				l.add(coll, other, lastSegment(other))
			}
		}
	}

	// Entry point: /health links to every collection plus discovery rels.
	for _, coll := range collections {
		if coll != "/health" {
			l.add("/health", coll, lastSegment(coll))
		}
	}
	l.add("/health", "/openapi.json", "describedby")
	l.add("/health", "/openapi.json", "service-desc")
	l.add("/health", "/docs", "service-doc")

	for p := range tags {
		if ref := responseSchemaRef(oapi.Paths[p]); ref != "" {
			l.add(p, "/openapi.json#/components/schemas/"+ref, "describedby")
		}
	}

	// Document the relationships in the OpenAPI document itself.
	for p, headers := range l.byPath {
		pi, ok := oapi.Paths[p]
		if !ok {
			continue
		}
		for _, op := range operationsOf(pi) {
			if op != nil {
				injectResponseLinks(op, headers)
			}
		}
	}
	return l
}

// For returns the Link header values of an operation path.
func (l *Links) For(p string) []string {
	if l == nil {
		return nil
	}
	return l.byPath[p]
}

// Root returns the links of the API entry point, for non-Huma handlers.
func (l *Links) Root() []string {
	return l.For("/health")
}

// Transformer returns a Huma Transformer that writes Link headers at
// runtime: the derived links of the operation, a self link for item
// resources and state-dependent actions from bodies implementing Actor.
func (l *Links) Transformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}
		for _, link := range l.For(op.Path) {
			ctx.AppendHeader("Link", link)
		}
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}
		if a, ok := v.(Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}
		return v, nil
	}
}

func (l *Links) add(from, to, rel string) {
	val := fmt.Sprintf(`<%s>; rel="%s"`, to, rel)
	if !slices.Contains(l.byPath[from], val) {
		l.byPath[from] = append(l.byPath[from], val)
	}
}

func primaryTags(pi *huma.PathItem) []string {
	for _, op := range operationsOf(pi) {
		if op != nil && len(op.Tags) > 0 {
			return op.Tags
		}
	}
	return nil
}

func operationsOf(pi *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{pi.Get, pi.Post, pi.Put, pi.Patch, pi.Delete}
}

func sharedTag(a, b []string) bool {
	return slices.ContainsFunc(a, func(t string) bool { return slices.Contains(b, t) })
}

func lastSegment(p string) string {
	return path.Base(strings.TrimRight(p, "/"))
}

// injectResponseLinks adds OpenAPI Link objects to the operation's success
// response.
func injectResponseLinks(op *huma.Operation, headers []string) {
	var resp *huma.Response
	for code, r := range op.Responses {
		if strings.HasPrefix(code, "2") {
			resp = r
			break
		}
	}
	if resp == nil {
		return
	}
	if resp.Links == nil {
		resp.Links = map[string]*huma.Link{}
	}
	for _, h := range headers {
		rel, href := parseLinkHeader(h)
		if rel == "" {
			continue
		}
		resp.Links[rel] = &huma.Link{
			OperationRef: href,
			Description:  fmt.Sprintf("Related: %s", rel),
		}
	}
}

func responseSchemaRef(pi *huma.PathItem) string {
	if pi == nil || pi.Get == nil {
		return ""
	}
	for code, resp := range pi.Get.Responses {
		if !strings.HasPrefix(code, "2") {
			continue
		}
		for _, mt := range resp.Content {
			if mt.Schema != nil && mt.Schema.Ref != "" {
				return path.Base(mt.Schema.Ref)
			}
		}
	}
	return ""
}

// parseLinkHeader splits `<url>; rel="name"`.
func parseLinkHeader(h string) (rel, href string) {
	target, params, ok := strings.Cut(h, ";")
	if !ok {
		return "", ""
	}
	href = strings.Trim(strings.TrimSpace(target), "<>")
	params = strings.TrimSpace(params)
	if v, ok := strings.CutPrefix(params, "rel="); ok {
		rel = strings.Trim(v, `"`)
	}
	return rel, href
}
