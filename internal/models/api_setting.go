package models

// APISetting is a chave/valor row of configuracoes_api.
type APISetting struct {
	Chave string `json:"chave" gorm:"column:chave;primaryKey;size:100"`
	Valor string `json:"valor" gorm:"column:valor;type:text"`
}

func (APISetting) TableName() string { return "configuracoes_api" }
