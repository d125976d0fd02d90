package bling

import "net/url"

// ListResponse is the envelope of /produtos and /contatos pages. Items stay
// untyped because their shape differs across API revisions.
type ListResponse struct {
	Data []map[string]interface{} `json:"data"`
}

// DetailResponse is the envelope of /produtos/{id} and /contatos/{id}.
type DetailResponse struct {
	Data map[string]interface{} `json:"data"`
}

// Resource is a paginated list endpoint and its fixed filters.
type Resource struct {
	Name    string
	Path    string
	Filters url.Values
}

const (
	ResourceProducts = "products"
	ResourceContacts = "contacts"
)

// ProductsResource lists /produtos, optionally filtered by tipo and situacao.
func ProductsResource(tipo, situacao string) Resource {
	f := url.Values{}
	if tipo != "" {
		f.Set("tipo", tipo)
	}
	if situacao != "" {
		f.Set("situacao", situacao)
	}
	return Resource{Name: ResourceProducts, Path: "/produtos", Filters: f}
}

func ContactsResource() Resource {
	return Resource{Name: ResourceContacts, Path: "/contatos", Filters: url.Values{}}
}
