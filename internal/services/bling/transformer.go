package bling

import (
	"errors"
	"fmt"

	"blingsync/internal/logger"
	"blingsync/internal/models"
)

// ErrSkip marks an item that is deliberately not written.
var ErrSkip = errors.New("item skipped")

var (
	priceChain = []extractor{scalarAt("preco"), scalarAt("preco", "preco")}

	stockChain = []extractor{
		sumOver("estoques", "saldoVirtualTotal"),
		scalarAt("estoque", "saldoVirtualTotal"),
		scalarAt("estoque"),
		scalarAt("saldoVirtualTotal"),
	}

	imageChain = []extractor{
		nonEmptyAt("midia", "imagens", "internas", "0", "link"),
		nonEmptyAt("midia", "imagens", "externas", "0", "link"),
		nonEmptyAt("imagemURL"),
	}

	categoryChain = []extractor{scalarAt("categoria", "id"), scalarAt("categoria")}
)

func dimensionChain(field string) []extractor {
	return []extractor{scalarAt("dimensoes", field), scalarAt(field)}
}

type Transformer struct {
	// Items whose tipo/formato differ are skipped; empty disables the check.
	productType   string
	productFormat string
	logger        *logger.Logger
}

func NewTransformer(productType, productFormat string, logger *logger.Logger) *Transformer {
	return &Transformer{productType: productType, productFormat: productFormat, logger: logger}
}

// TransformProduct converts a Bling product (list item or detail) to a
// produtos_bling row.
func (t *Transformer) TransformProduct(raw map[string]interface{}) (models.Product, error) {
	id := parseID(raw["id"])
	if id == 0 {
		t.logger.Debug("Skipping product without id (codigo=%q)", asString(raw["codigo"]))
		return models.Product{}, fmt.Errorf("%w: product without id", ErrSkip)
	}

	p := models.Product{
		IDBling:  id,
		Codigo:   asString(raw["codigo"]),
		Nome:     asString(raw["nome"]),
		Tipo:     asString(raw["tipo"]),
		Situacao: asString(raw["situacao"]),
		Formato:  asString(raw["formato"]),
		Imagem:   models.PlaceholderImage,
	}

	if t.productType != "" && p.Tipo != t.productType {
		t.logger.Debug("Skipping product %d: tipo %q", id, p.Tipo)
		return models.Product{}, fmt.Errorf("%w: product %d has tipo %q", ErrSkip, id, p.Tipo)
	}
	if t.productFormat != "" && p.Formato != t.productFormat {
		t.logger.Debug("Skipping product %d: formato %q", id, p.Formato)
		return models.Product{}, fmt.Errorf("%w: product %d has formato %q", ErrSkip, id, p.Formato)
	}

	if v, ok := firstOf(raw, priceChain...); ok {
		p.Preco = ParseDecimal(v)
	}
	if v, ok := firstOf(raw, stockChain...); ok {
		p.Estoque = ParseInt(v)
	}
	if v, ok := firstOf(raw, dimensionChain("largura")...); ok {
		p.Largura = ParseDecimal(v)
	}
	if v, ok := firstOf(raw, dimensionChain("altura")...); ok {
		p.Altura = ParseDecimal(v)
	}
	if v, ok := firstOf(raw, dimensionChain("profundidade")...); ok {
		p.Profundidade = ParseDecimal(v)
	}
	if v, ok := firstOf(raw, scalarAt("pesoLiquido")); ok {
		p.PesoLiquido = ParseDecimal(v)
	}
	if v, ok := firstOf(raw, scalarAt("pesoBruto")); ok {
		p.PesoBruto = ParseDecimal(v)
	}
	if v, ok := firstOf(raw, imageChain...); ok {
		p.Imagem = v.(string)
	}
	if v, ok := firstOf(raw, categoryChain...); ok {
		if cat := asString(v); cat != "0" {
			p.Categoria = cat
		}
	}

	return p, nil
}

// TransformCustomer converts a Bling contact to a clientes_bling row.
func (t *Transformer) TransformCustomer(raw map[string]interface{}) (models.Customer, error) {
	id := parseID(raw["id"])
	if id == 0 {
		t.logger.Debug("Skipping contact without id (nome=%q)", asString(raw["nome"]))
		return models.Customer{}, fmt.Errorf("%w: contact without id", ErrSkip)
	}

	c := models.Customer{
		ID:        id,
		Codigo:    asString(raw["codigo"]),
		Nome:      upper(raw["nome"]),
		Fantasia:  upper(raw["fantasia"]),
		Documento: digitsOnly(raw["numeroDocumento"]),
		IE:        digitsOnly(raw["ie"]),
		RG:        upper(raw["rg"]),
		Telefone:  digitsOnly(raw["telefone"]),
		Celular:   digitsOnly(raw["celular"]),
		Email:     upper(raw["email"]),
		Situacao:  upper(raw["situacao"]),
	}
	if v, ok := firstOf(raw, scalarAt("tipo"), scalarAt("tipoPessoa")); ok {
		c.Tipo = upper(v)
	}
	if c.Situacao == "" {
		c.Situacao = "A"
	}

	if addr := contactAddress(raw); addr != nil {
		c.Endereco = upper(addr["endereco"])
		c.Numero = upper(addr["numero"])
		c.Complemento = upper(addr["complemento"])
		c.Bairro = upper(addr["bairro"])
		c.CEP = asString(addr["cep"])
		c.Municipio = upper(addr["municipio"])
		c.UF = upper(addr["uf"])
	}

	return c, nil
}

// contactAddress prefers the general address and falls back to billing.
func contactAddress(raw map[string]interface{}) map[string]interface{} {
	for _, kind := range []string{"geral", "cobranca"} {
		v, ok := at("endereco", kind)(raw)
		if !ok {
			continue
		}
		if m, ok := v.(map[string]interface{}); ok && len(m) > 0 {
			return m
		}
	}
	return nil
}
