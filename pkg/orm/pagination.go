package orm

import "gorm.io/gorm"

// ApplyChunk 按 id 升序取一批，chunkSize <= 0 时不限制
func ApplyChunk(db *gorm.DB, chunkSize int) *gorm.DB {
	db = db.Order("id ASC")
	if chunkSize > 0 {
		return db.Limit(chunkSize)
	}
	return db
}
