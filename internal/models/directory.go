package models

// DirectoryEntry describes a tutor as exposed by the supervisor directory,
// used for reviewer candidate selection and area backfill.
type DirectoryEntry struct {
	ID       string `db:"id" json:"id"`
	Name     string `db:"full_name" json:"name"`
	Email    string `db:"email" json:"email"`
	Area     string `db:"area" json:"area"`
	AreaInfo string `db:"area_info" json:"area_info,omitempty"`
}
