package models

import (
	"strconv"
	"time"
)

// Customer is a row of clientes_bling, keyed by the Bling contact id.
type Customer struct {
	ID            int64      `json:"id" gorm:"column:id;primaryKey;autoIncrement:false"`
	Codigo        string     `json:"codigo" gorm:"column:codigo;size:50"`
	Nome          string     `json:"nome" gorm:"column:nome;size:255;not null"`
	Fantasia      string     `json:"fantasia" gorm:"column:fantasia;size:255"`
	Tipo          string     `json:"tipo" gorm:"column:tipo;size:1"`
	Documento     string     `json:"documento" gorm:"column:documento;size:20"`
	IE            string     `json:"ie" gorm:"column:ie;size:20"`
	RG            string     `json:"rg" gorm:"column:rg;size:20"`
	Telefone      string     `json:"telefone" gorm:"column:telefone;size:20"`
	Celular       string     `json:"celular" gorm:"column:celular;size:20"`
	Email         string     `json:"email" gorm:"column:email;size:255"`
	Endereco      string     `json:"endereco" gorm:"column:endereco;size:255"`
	Numero        string     `json:"numero" gorm:"column:numero;size:10"`
	Complemento   string     `json:"complemento" gorm:"column:complemento;size:100"`
	Bairro        string     `json:"bairro" gorm:"column:bairro;size:100"`
	CEP           string     `json:"cep" gorm:"column:cep;size:10"`
	Municipio     string     `json:"municipio" gorm:"column:municipio;size:100"`
	UF            string     `json:"uf" gorm:"column:uf;size:2"`
	Situacao      string     `json:"situacao" gorm:"column:situacao;size:1;default:A"`
	DataCadastro  *time.Time `json:"data_cadastro" gorm:"column:data_cadastro;autoCreateTime"`
	DataAlteracao *time.Time `json:"data_alteracao" gorm:"column:data_alteracao;autoUpdateTime"`
}

var (
	customerListColumns = []string{
		"codigo", "nome", "fantasia", "tipo", "documento", "telefone", "celular", "email", "situacao",
	}
	customerDetailColumns = []string{
		"ie", "rg", "endereco", "numero", "complemento", "bairro", "cep", "municipio", "uf", "data_alteracao",
	}
)

func (Customer) TableName() string { return "clientes_bling" }

func (c Customer) ExternalID() int64 { return c.ID }

func (Customer) KeyColumn() string { return "id" }

func (Customer) EnrichmentColumn() string { return "endereco" }

func (Customer) UpsertColumns(enriched bool) []string {
	if !enriched {
		return customerListColumns
	}
	return append(append([]string{}, customerListColumns...), customerDetailColumns...)
}

func (c Customer) EventKey() string { return strconv.FormatInt(c.ID, 10) }
