package domain

import "time"

// RunStatus is the lifecycle state of a Fletcher APK run.
type RunStatus string

const (
	RunDraft     RunStatus = "draft"
	RunSubmitted RunStatus = "submitted"
)

// FletcherRun is one APK checklist inspection of a location. SectionNotes
// maps a checklist section key to a free-text note and is stored as JSON.
type FletcherRun struct {
	ID               string            `json:"id"                 gorm:"type:char(36);primaryKey"`
	LocationID       string            `json:"location_id"        gorm:"type:char(36);not null;index"`
	CreatedBy        string            `json:"created_by"         gorm:"type:varchar(64);not null;index"`
	Status           RunStatus         `json:"status"             gorm:"type:varchar(16);not null;default:'draft';index"`
	OpenQ1Knelpunten string            `json:"open_q1_knelpunten" gorm:"type:text"`
	OpenQ2Meerwaarde string            `json:"open_q2_meerwaarde" gorm:"type:text"`
	MeetingNotes     string            `json:"meeting_notes"      gorm:"type:text"`
	SectionNotes     map[string]string `json:"section_notes"      gorm:"type:text;serializer:json"`
	CreatedAt        time.Time         `json:"created_at"         gorm:"index"`
	UpdatedAt        time.Time         `json:"updated_at"`

	Location *Location `json:"location,omitempty" gorm:"foreignKey:LocationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Creator  *Profile  `json:"creator,omitempty"  gorm:"foreignKey:CreatedBy;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for FletcherRun.
func (FletcherRun) TableName() string { return "fletcher_apk_runs" }

// FletcherCheckItem is the per-run state of one checklist item.
type FletcherCheckItem struct {
	ID       string  `json:"id"       gorm:"type:char(36);primaryKey"`
	RunID    string  `json:"run_id"   gorm:"type:char(36);not null;uniqueIndex:ux_run_item,priority:1"`
	ItemKey  string  `json:"item_key" gorm:"type:varchar(64);not null;uniqueIndex:ux_run_item,priority:2"`
	Section  string  `json:"section"  gorm:"type:varchar(64);not null"`
	Label    string  `json:"label"    gorm:"type:text;not null"`
	Position int     `json:"position" gorm:"not null;default:0"`
	Checked  bool    `json:"checked"  gorm:"not null;default:false"`
	Note     *string `json:"note"     gorm:"type:text"`

	Run FletcherRun `json:"-" gorm:"foreignKey:RunID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for FletcherCheckItem.
func (FletcherCheckItem) TableName() string { return "fletcher_apk_check_items" }

// FletcherTodo is a follow-up action recorded during a run.
type FletcherTodo struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	RunID     string    `json:"run_id"     gorm:"type:char(36);not null;index"`
	Text      string    `json:"text"       gorm:"type:text;not null"`
	Done      bool      `json:"done"       gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`

	Run FletcherRun `json:"-" gorm:"foreignKey:RunID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for FletcherTodo.
func (FletcherTodo) TableName() string { return "fletcher_apk_todos" }

// FletcherError is a problem found at the venue during a run.
type FletcherError struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	RunID     string    `json:"run_id"     gorm:"type:char(36);not null;index"`
	Text      string    `json:"text"       gorm:"type:text;not null"`
	Resolved  bool      `json:"resolved"   gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`

	Run FletcherRun `json:"-" gorm:"foreignKey:RunID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for FletcherError.
func (FletcherError) TableName() string { return "fletcher_apk_errors" }
