package models

import (
	"strconv"
	"time"
)

// Product is a row of produtos_bling, keyed by the Bling product id.
type Product struct {
	IDBling       int64      `json:"id_bling" gorm:"column:id_bling;primaryKey;autoIncrement:false"`
	Codigo        string     `json:"codigo" gorm:"column:codigo;size:100;index"`
	Nome          string     `json:"nome" gorm:"column:nome;size:255"`
	Preco         float64    `json:"preco" gorm:"column:preco;type:decimal(12,2)"`
	Estoque       int64      `json:"estoque" gorm:"column:estoque"`
	Tipo          string     `json:"tipo" gorm:"column:tipo;size:1"`
	Situacao      string     `json:"situacao" gorm:"column:situacao;size:1"`
	Formato       string     `json:"formato" gorm:"column:formato;size:1"`
	Largura       float64    `json:"largura" gorm:"column:largura;type:decimal(10,3)"`
	Altura        float64    `json:"altura" gorm:"column:altura;type:decimal(10,3)"`
	Profundidade  float64    `json:"profundidade" gorm:"column:profundidade;type:decimal(10,3)"`
	PesoLiquido   float64    `json:"peso_liquido" gorm:"column:peso_liquido;type:decimal(10,3)"`
	PesoBruto     float64    `json:"peso_bruto" gorm:"column:peso_bruto;type:decimal(10,3)"`
	Imagem        string     `json:"imagem" gorm:"column:imagem;size:500"`
	Categoria     string     `json:"categoria" gorm:"column:categoria;size:50"`
	DataAlteracao *time.Time `json:"data_alteracao" gorm:"column:data_alteracao;autoUpdateTime"`
}

const PlaceholderImage = "img/imagem_indisponivel.png"

// data_alteracao dates the last detail read, so list-only updates leave it
// alone. New rows still get it on insert.
var (
	productListColumns = []string{
		"codigo", "nome", "preco", "estoque", "tipo", "situacao", "formato",
	}
	productDetailColumns = []string{
		"largura", "altura", "profundidade", "peso_liquido", "peso_bruto", "imagem", "categoria", "data_alteracao",
	}
)

func (Product) TableName() string { return "produtos_bling" }

func (p Product) ExternalID() int64 { return p.IDBling }

func (Product) KeyColumn() string { return "id_bling" }

// EnrichmentColumn is only filled from the product detail endpoint.
func (Product) EnrichmentColumn() string { return "imagem" }

func (Product) UpsertColumns(enriched bool) []string {
	if !enriched {
		return productListColumns
	}
	return append(append([]string{}, productListColumns...), productDetailColumns...)
}

func (p Product) EventKey() string { return strconv.FormatInt(p.IDBling, 10) }
