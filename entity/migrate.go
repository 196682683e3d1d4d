package entity

import "gorm.io/gorm"

// Migrate creates the jobs table plus the partial unique index that backs the
// one-active-job-per-(type, internal_id) invariant at the database level.
// AutoMigrate cannot express the WHERE clause, so the index is raw SQL.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Job{}); err != nil {
		return err
	}
	return db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_active_pair ON jobs (type, internal_id) WHERE status <> 'failed'",
	).Error
}
