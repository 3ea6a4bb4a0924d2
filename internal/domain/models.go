// Package domain defines the persistence models for profiles, projects,
// locations, visits and the Fletcher APK checklist. These types are mapped
// with GORM and form the core data layer of the visit tracker.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Role is the access role of a profile.
type Role string

const (
	RoleAdmin         Role = "admin"
	RoleRecruiter     Role = "recruiter"
	RoleFletcherAdmin Role = "fletcher_admin"
	// RoleReichskanzlier is granted admin rights everywhere an admin is.
	RoleReichskanzlier Role = "reichskanzlier"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleRecruiter, RoleFletcherAdmin, RoleReichskanzlier:
		return true
	}
	return false
}

// VisitStatus is the outcome recorded for a visit.
type VisitStatus string

const (
	StatusVisited       VisitStatus = "visited"
	StatusInterested    VisitStatus = "interested"
	StatusDemoPlanned   VisitStatus = "demo_planned"
	StatusNotInterested VisitStatus = "not_interested"
	StatusPotential     VisitStatus = "potential"
	StatusAlreadyClient VisitStatus = "already_client"
)

// IsValid reports whether s is a known visit status.
func (s VisitStatus) IsValid() bool {
	switch s {
	case StatusVisited, StatusInterested, StatusDemoPlanned,
		StatusNotInterested, StatusPotential, StatusAlreadyClient:
		return true
	}
	return false
}

// Profile is an authenticated user of the dashboard. The ID equals the
// subject issued by the identity provider.
//
// Fields:
//   - ID: identity subject (varchar(64)).
//   - Name: display name shown in overlap warnings and leaderboards.
//   - Nickname: optional short name.
//   - Role: admin, recruiter, fletcher_admin or reichskanzlier.
//   - Active: inactive profiles cannot sign in and are hidden from the leaderboard.
type Profile struct {
	ID        string    `json:"id"         gorm:"type:varchar(64);primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(255);not null"`
	Nickname  *string   `json:"nickname,omitempty" gorm:"type:varchar(64)"`
	Role      Role      `json:"role"       gorm:"type:varchar(32);not null;default:'recruiter';index"`
	Active    bool      `json:"active"     gorm:"not null;default:true"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Profile.
func (Profile) TableName() string { return "profiles" }

// Project is a client campaign recruiters log visits for.
type Project struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(255);not null;uniqueIndex:ux_projects_name"`
	Active    bool      `json:"active"     gorm:"not null;default:true;index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Project.
func (Project) TableName() string { return "projects" }

// RecruiterProject assigns a recruiter to a project. A pair is stored once.
type RecruiterProject struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	RecruiterID string    `json:"recruiter_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_recruiter_project,priority:1"`
	ProjectID   string    `json:"project_id"   gorm:"type:char(36);not null;uniqueIndex:ux_recruiter_project,priority:2;index"`
	CreatedAt   time.Time `json:"created_at"`

	Recruiter Profile `json:"-" gorm:"foreignKey:RecruiterID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Project   Project `json:"-" gorm:"foreignKey:ProjectID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for RecruiterProject.
func (RecruiterProject) TableName() string { return "recruiter_projects" }

// Location is a physical venue. The (name, city) pair is unique regardless
// of letter case; NameKey and CityKey hold the folded values the unique
// index is built on.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Name / City: as entered by the first recruiter.
//   - NameKey / CityKey: case-folded copies, unique together.
//   - Address, Website, PosSystem: optional descriptive fields.
//   - Latitude / Longitude: optional geocoordinate.
type Location struct {
	ID        string    `json:"id"          gorm:"type:char(36);primaryKey"`
	Name      string    `json:"name"        gorm:"type:varchar(255);not null"`
	City      string    `json:"city"        gorm:"type:varchar(255);not null"`
	NameKey   string    `json:"-"           gorm:"type:varchar(255);not null;uniqueIndex:ux_locations_name_city,priority:1"`
	CityKey   string    `json:"-"           gorm:"type:varchar(255);not null;uniqueIndex:ux_locations_name_city,priority:2"`
	Address   *string   `json:"address"     gorm:"type:varchar(512)"`
	Website   *string   `json:"website"     gorm:"type:varchar(512)"`
	PosSystem *string   `json:"pos_system"  gorm:"type:varchar(255)"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Location.
func (Location) TableName() string { return "locations" }

// Visit is one recruiter's interaction with one location on behalf of one
// project. VisitDate is a calendar date stored at UTC midnight.
//
// Fields:
//   - RecruiterID, ProjectID, LocationID: fixed after creation.
//   - VisitDate: day of the visit; indexed with LocationID for the
//     conflict-window queries.
//   - Status / Notes: editable after creation.
//   - DeletedAt: soft deletion marker.
type Visit struct {
	ID                string         `json:"id"                 gorm:"type:char(36);primaryKey"`
	RecruiterID       string         `json:"recruiter_id"       gorm:"type:varchar(64);not null;index:idx_visits_recruiter"`
	ProjectID         string         `json:"project_id"         gorm:"type:char(36);not null;index"`
	LocationID        string         `json:"location_id"        gorm:"type:char(36);not null;index:idx_visits_location_date,priority:1"`
	VisitDate         time.Time      `json:"visit_date"         gorm:"not null;index:idx_visits_location_date,priority:2"`
	Status            VisitStatus    `json:"status"             gorm:"type:varchar(32);not null;default:'visited';index"`
	PosSystem         string         `json:"pos_system"         gorm:"type:varchar(255);not null"`
	SpokenTo          string         `json:"spoken_to"          gorm:"type:varchar(255);not null"`
	Takeaway          bool           `json:"takeaway"           gorm:"not null;default:false"`
	Delivery          bool           `json:"delivery"           gorm:"not null;default:false"`
	TakeawayPlatforms *string        `json:"takeaway_platforms" gorm:"type:varchar(512)"`
	DeliveryPlatforms *string        `json:"delivery_platforms" gorm:"type:varchar(512)"`
	Notes             *string        `json:"notes"              gorm:"type:text"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `json:"-"                  gorm:"index"`

	Location  *Location `json:"location,omitempty"  gorm:"foreignKey:LocationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	Project   *Project  `json:"project,omitempty"   gorm:"foreignKey:ProjectID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	Recruiter *Profile  `json:"recruiter,omitempty" gorm:"foreignKey:RecruiterID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Visit.
func (Visit) TableName() string { return "visits" }
