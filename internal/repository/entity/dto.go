package entity

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	domentity "github.com/kailas-cloud/silo/internal/domain/entity"
)

type userDoc struct {
	ID             primitive.ObjectID `bson:"_id"`
	Username       string             `bson:"username"`
	Email          string             `bson:"email"`
	UserType       string             `bson:"user_type"`
	Biography      string             `bson:"biography"`
	Skills         []string           `bson:"skills"`
	Interests      []string           `bson:"interests"`
	Technologies   []string           `bson:"technologies"`
	Qualifications []string           `bson:"qualifications"`
}

func (d *userDoc) toDomain() *domentity.User {
	return &domentity.User{
		UserID:         d.ID.Hex(),
		Username:       d.Username,
		Email:          d.Email,
		UserType:       d.UserType,
		Biography:      d.Biography,
		Skills:         d.Skills,
		Interests:      d.Interests,
		Technologies:   d.Technologies,
		Qualifications: d.Qualifications,
	}
}

func userDocFrom(id primitive.ObjectID, u *domentity.User) userDoc {
	return userDoc{
		ID:             id,
		Username:       u.Username,
		Email:          u.Email,
		UserType:       u.UserType,
		Biography:      u.Biography,
		Skills:         nonNil(u.Skills),
		Interests:      nonNil(u.Interests),
		Technologies:   nonNil(u.Technologies),
		Qualifications: nonNil(u.Qualifications),
	}
}

// projectDoc follows the platform's projects collection. createdBy holds the
// owner's user id, or the username for projects created by the web app.
type projectDoc struct {
	ID          primitive.ObjectID `bson:"_id"`
	CreatedBy   string             `bson:"createdBy"`
	Name        string             `bson:"projectName"`
	Description string             `bson:"projectDescription"`
	Tags        []string           `bson:"tags"`
	CreatedAt   time.Time          `bson:"created_at"`
}

func (d *projectDoc) toDomain() *domentity.Project {
	return &domentity.Project{
		ProjectID:   d.ID.Hex(),
		OwnerID:     d.CreatedBy,
		Name:        d.Name,
		Description: d.Description,
		Tags:        d.Tags,
		CreatedAt:   d.CreatedAt,
	}
}

type paperDoc struct {
	ID        primitive.ObjectID `bson:"_id"`
	ArxivID   string             `bson:"arxiv_id"`
	Title     string             `bson:"title"`
	Abstract  string             `bson:"abstract"`
	Authors   []string           `bson:"authors"`
	URL       string             `bson:"url"`
	Published time.Time          `bson:"published"`
}

func (d *paperDoc) toDomain() *domentity.Paper {
	return &domentity.Paper{
		PaperID:   d.ID.Hex(),
		Title:     d.Title,
		Abstract:  d.Abstract,
		Authors:   d.Authors,
		URL:       d.URL,
		Published: d.Published,
	}
}

// jobDoc keys postings by the job-board id.
type jobDoc struct {
	ID           string    `bson:"_id"`
	Title        string    `bson:"title"`
	Description  string    `bson:"description"`
	Company      string    `bson:"company"`
	City         string    `bson:"city"`
	State        string    `bson:"state"`
	CountryCode  string    `bson:"country_code"`
	URL          string    `bson:"url"`
	Skills       []string  `bson:"skills"`
	Industry     string    `bson:"industry"`
	WorkType     string    `bson:"work_type"`
	ContractType string    `bson:"contract_type"`
	PostedAt     time.Time `bson:"posted_at"`
}

func (d *jobDoc) toDomain() *domentity.Job {
	return &domentity.Job{
		JobID:        d.ID,
		Title:        d.Title,
		Description:  d.Description,
		Company:      d.Company,
		City:         d.City,
		State:        d.State,
		CountryCode:  d.CountryCode,
		URL:          d.URL,
		Skills:       d.Skills,
		Industry:     d.Industry,
		WorkType:     d.WorkType,
		ContractType: d.ContractType,
		PostedAt:     d.PostedAt,
	}
}

func jobDocFrom(j *domentity.Job) jobDoc {
	return jobDoc{
		ID:           j.JobID,
		Title:        j.Title,
		Description:  j.Description,
		Company:      j.Company,
		City:         j.City,
		State:        j.State,
		CountryCode:  j.CountryCode,
		URL:          j.URL,
		Skills:       nonNil(j.Skills),
		Industry:     j.Industry,
		WorkType:     j.WorkType,
		ContractType: j.ContractType,
		PostedAt:     j.PostedAt,
	}
}

type jobMetaDoc struct {
	ID         string    `bson:"_id"`
	Collection string    `bson:"collection"`
	Generation string    `bson:"generation"`
	LastFetch  time.Time `bson:"last_fetch"`
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
