package bling

import (
	"encoding/json"
	"errors"
	"testing"

	"blingsync/internal/models"
)

func rawJSON(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := decode([]byte(s), &m); err != nil {
		t.Fatalf("bad fixture %s: %v", s, err)
	}
	return m
}

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		in   interface{}
		want float64
	}{
		{"12,50", 12.5},
		{"12.50", 12.5},
		{"1.234,56", 1234.56},
		{"1,234.56", 1234.56},
		{"1.234.567", 1234567},
		{" 7 ", 7},
		{"N/A", 0},
		{"", 0},
		{nil, 0},
		{"NaN", 0},
		{json.Number("3.75"), 3.75},
		{float64(2), 2},
		{map[string]interface{}{}, 0},
	}
	for _, tt := range tests {
		if got := ParseDecimal(tt.in); got != tt.want {
			t.Errorf("ParseDecimal(%#v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTransformProductStockShapes(t *testing.T) {
	tests := []struct {
		name string
		json string
		want int64
	}{
		{"warehouse list", `{"id":1,"estoques":[{"saldoVirtualTotal":"3"},{"saldoVirtualTotal":4.5},{"outro":1}]}`, 7},
		{"nested object", `{"id":1,"estoque":{"saldoVirtualTotal":"12,9"}}`, 12},
		{"flat number", `{"id":1,"estoque":8}`, 8},
		{"flat string", `{"id":1,"estoque":"5"}`, 5},
		{"top level", `{"id":1,"saldoVirtualTotal":2}`, 2},
		{"missing", `{"id":1}`, 0},
		{"list wins over object", `{"id":1,"estoques":[{"saldoVirtualTotal":1}],"estoque":{"saldoVirtualTotal":99}}`, 1},
	}

	tr := NewTransformer("", "", testLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tr.TransformProduct(rawJSON(t, tt.json))
			if err != nil {
				t.Fatal(err)
			}
			if p.Estoque != tt.want {
				t.Errorf("estoque = %d, want %d", p.Estoque, tt.want)
			}
		})
	}
}

func TestTransformProductImageChain(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{"internal first", `{"id":1,"midia":{"imagens":{"internas":[{"link":"int.jpg"}],"externas":[{"link":"ext.jpg"}]}},"imagemURL":"url.jpg"}`, "int.jpg"},
		{"external", `{"id":1,"midia":{"imagens":{"internas":[],"externas":[{"link":"ext.jpg"}]}}}`, "ext.jpg"},
		{"blank internal link", `{"id":1,"midia":{"imagens":{"internas":[{"link":""}]}},"imagemURL":"url.jpg"}`, "url.jpg"},
		{"imagemURL", `{"id":1,"imagemURL":"url.jpg"}`, "url.jpg"},
		{"placeholder", `{"id":1}`, models.PlaceholderImage},
	}

	tr := NewTransformer("", "", testLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tr.TransformProduct(rawJSON(t, tt.json))
			if err != nil {
				t.Fatal(err)
			}
			if p.Imagem != tt.want {
				t.Errorf("imagem = %q, want %q", p.Imagem, tt.want)
			}
		})
	}
}

func TestTransformProductDetail(t *testing.T) {
	tr := NewTransformer("P", "S", testLogger())
	p, err := tr.TransformProduct(rawJSON(t, productJSON(9, true)))
	if err != nil {
		t.Fatal(err)
	}

	want := models.Product{
		IDBling: 9, Codigo: "SKU-9", Nome: "Produto 9", Preco: 10.5, Estoque: 2,
		Tipo: "P", Situacao: "A", Formato: "S",
		Largura: 10, Altura: 5.5, Profundidade: 2, PesoLiquido: 0.25, PesoBruto: 0.3,
		Imagem: "https://cdn.example/9.jpg", Categoria: "42",
	}
	if p != want {
		t.Fatalf("got  %+v\nwant %+v", p, want)
	}
}

func TestTransformProductPriceShapes(t *testing.T) {
	tr := NewTransformer("", "", testLogger())
	tests := []struct {
		json string
		want float64
	}{
		{`{"id":1,"preco":"19,90"}`, 19.9},
		{`{"id":1,"preco":{"preco":"5.5"}}`, 5.5},
		{`{"id":1,"preco":"sob consulta"}`, 0},
		{`{"id":1}`, 0},
	}
	for _, tt := range tests {
		p, err := tr.TransformProduct(rawJSON(t, tt.json))
		if err != nil {
			t.Fatal(err)
		}
		if p.Preco != tt.want {
			t.Errorf("%s: preco = %v, want %v", tt.json, p.Preco, tt.want)
		}
	}
}

func TestTransformProductSkips(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"missing id", `{"codigo":"X","tipo":"P","formato":"S"}`},
		{"zero id", `{"id":0,"tipo":"P","formato":"S"}`},
		{"service", `{"id":5,"tipo":"S","formato":"S"}`},
		{"kit", `{"id":5,"tipo":"P","formato":"E"}`},
	}

	tr := NewTransformer("P", "S", testLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.TransformProduct(rawJSON(t, tt.json))
			if !errors.Is(err, ErrSkip) {
				t.Fatalf("expected ErrSkip, got %v", err)
			}
		})
	}

	// With the predicate disabled only the id matters.
	if _, err := NewTransformer("", "", testLogger()).TransformProduct(rawJSON(t, `{"id":5,"tipo":"S","formato":"E"}`)); err != nil {
		t.Fatalf("unexpected skip: %v", err)
	}
}

func TestTransformCustomer(t *testing.T) {
	raw := rawJSON(t, `{
		"id": 1234,
		"codigo": "C-1",
		"nome": "Maria da Silva",
		"fantasia": null,
		"tipoPessoa": "f",
		"numeroDocumento": "123.456.789-09",
		"ie": "ISENTO",
		"telefone": "(11) 3333-4444",
		"celular": "+55 11 98888-7777",
		"email": "maria@example.com",
		"endereco": {
			"geral": {},
			"cobranca": {"endereco": "Rua A", "numero": "10", "bairro": "Centro", "cep": "01001-000", "municipio": "São Paulo", "uf": "sp"}
		}
	}`)

	c, err := NewTransformer("", "", testLogger()).TransformCustomer(raw)
	if err != nil {
		t.Fatal(err)
	}

	want := models.Customer{
		ID: 1234, Codigo: "C-1", Nome: "MARIA DA SILVA", Tipo: "F",
		Documento: "12345678909", Telefone: "1133334444", Celular: "5511988887777",
		Email: "MARIA@EXAMPLE.COM", Endereco: "RUA A", Numero: "10", Bairro: "CENTRO",
		CEP: "01001-000", Municipio: "SÃO PAULO", UF: "SP", Situacao: "A",
	}
	if c != want {
		t.Fatalf("got  %+v\nwant %+v", c, want)
	}
}

func TestTransformCustomerPrefersGeneralAddress(t *testing.T) {
	raw := rawJSON(t, `{"id":1,"nome":"x","tipo":"J","situacao":"I",
		"endereco":{"geral":{"endereco":"Av Geral"},"cobranca":{"endereco":"Rua Cobranca"}}}`)

	c, err := NewTransformer("", "", testLogger()).TransformCustomer(raw)
	if err != nil {
		t.Fatal(err)
	}
	if c.Endereco != "AV GERAL" || c.Tipo != "J" || c.Situacao != "I" {
		t.Fatalf("got %+v", c)
	}
}

func TestTransformCustomerWithoutIDIsSkipped(t *testing.T) {
	_, err := NewTransformer("", "", testLogger()).TransformCustomer(rawJSON(t, `{"nome":"x"}`))
	if !errors.Is(err, ErrSkip) {
		t.Fatalf("expected ErrSkip, got %v", err)
	}
}
