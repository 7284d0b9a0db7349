package entity

import (
	"strings"
	"time"
)

// Entity is implemented by every retrievable variant.
type Entity interface {
	ID() string
	Kind() Kind
	// TextSurface is the text the entity's embedding is built from.
	TextSurface() string
	// Label is the denormalized display field stored alongside the vector.
	Label() string
}

var (
	_ Entity = (*User)(nil)
	_ Entity = (*Project)(nil)
	_ Entity = (*Job)(nil)
	_ Entity = (*Paper)(nil)
)

// User is a platform member.
type User struct {
	UserID         string
	Username       string
	Email          string
	UserType       string
	Biography      string
	Skills         []string
	Interests      []string
	Technologies   []string
	Qualifications []string
}

// ID returns the user id.
func (u *User) ID() string { return u.UserID }

// Kind returns KindUser.
func (u *User) Kind() Kind { return KindUser }

// Label returns the username.
func (u *User) Label() string { return u.Username }

// TextSurface joins biography, skills and interests.
func (u *User) TextSurface() string {
	return joinSurface(u.Biography, strings.Join(u.Skills, " "), strings.Join(u.Interests, " "))
}

// Project is a user-owned portfolio project.
type Project struct {
	ProjectID   string
	OwnerID     string
	Name        string
	Description string
	Tags        []string
	CreatedAt   time.Time
}

// ID returns the project id.
func (p *Project) ID() string { return p.ProjectID }

// Kind returns KindProject.
func (p *Project) Kind() Kind { return KindProject }

// Label returns the project name.
func (p *Project) Label() string { return p.Name }

// TextSurface joins name, description and tags.
func (p *Project) TextSurface() string {
	return joinSurface(p.Name, p.Description, strings.Join(p.Tags, " "))
}

// Job is a posting from the external job board.
type Job struct {
	JobID        string
	Title        string
	Description  string
	Company      string
	City         string
	State        string
	CountryCode  string
	URL          string
	Skills       []string
	Industry     string
	WorkType     string
	ContractType string
	PostedAt     time.Time
}

// ID returns the job-board id.
func (j *Job) ID() string { return j.JobID }

// Kind returns KindJob.
func (j *Job) Kind() Kind { return KindJob }

// Label returns the job title.
func (j *Job) Label() string { return j.Title }

// TextSurface joins title, description and company.
func (j *Job) TextSurface() string {
	return joinSurface(j.Title, j.Description, j.Company)
}

// Paper is a research paper.
type Paper struct {
	PaperID   string
	Title     string
	Abstract  string
	Authors   []string
	URL       string
	Published time.Time
}

// ID returns the paper id.
func (p *Paper) ID() string { return p.PaperID }

// Kind returns KindResearch.
func (p *Paper) Kind() Kind { return KindResearch }

// Label returns the paper title.
func (p *Paper) Label() string { return p.Title }

// TextSurface separates title and abstract with a blank line.
func (p *Paper) TextSurface() string {
	return p.Title + "\n\n" + p.Abstract
}

// joinSurface keeps empty parts as empty strings so the field layout stays positional.
func joinSurface(parts ...string) string {
	return strings.Join(parts, " ")
}
