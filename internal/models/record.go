package models

import "time"

// Record is a catalog row that can be upserted by its Bling id.
type Record interface {
	Product | Customer

	TableName() string
	ExternalID() int64
	KeyColumn() string
	EnrichmentColumn() string
	// UpsertColumns lists the columns rewritten on conflict. Detail-only
	// columns are included only when the record carries detail data.
	UpsertColumns(enriched bool) []string
	EventKey() string
}

// Touch stamps data_alteracao on a record before it is written.
func Touch[T Record](r *T, now time.Time) {
	switch v := any(r).(type) {
	case *Product:
		v.DataAlteracao = &now
	case *Customer:
		v.DataAlteracao = &now
	}
}

// StripDetail clears the detail-only columns of a record built from a list
// item, so a new row is stored without enrichment and gets its details on a
// later run.
func StripDetail[T Record](r *T) {
	switch v := any(r).(type) {
	case *Product:
		v.Largura, v.Altura, v.Profundidade = 0, 0, 0
		v.PesoLiquido, v.PesoBruto = 0, 0
		v.Imagem = ""
		v.Categoria = ""
	case *Customer:
		v.IE, v.RG = "", ""
		v.Endereco, v.Numero, v.Complemento, v.Bairro = "", "", "", ""
		v.CEP, v.Municipio, v.UF = "", "", ""
	}
}
