package models

import "time"

// PalletInfo is the business record written once a pallet label has been produced.
// The allocator only reads it to check whether a series code is already taken.
type PalletInfo struct {
	PltNum       string    `gorm:"primaryKey;column:plt_num;size:32" json:"plt_num"`
	Series       string    `gorm:"uniqueIndex:idx_palletinfo_series;size:32;not null" json:"series"`
	ProductCode  string    `gorm:"size:64;not null" json:"product_code"`
	ProductQty   int       `gorm:"not null;default:0" json:"product_qty"`
	PltRemark    *string   `gorm:"type:text" json:"plt_remark,omitempty"`
	PdfURL       *string   `gorm:"type:text" json:"pdf_url,omitempty"`
	GenerateTime time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"generate_time"`
}

func (PalletInfo) TableName() string { return "record_palletinfo" }
