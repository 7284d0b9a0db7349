package chi

import (
	"time"

	"github.com/kailas-cloud/silo/internal/domain/entity"
	"github.com/kailas-cloud/silo/internal/usecase/retrieval"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RankedResponse wraps pipeline results.
type RankedResponse struct {
	Results []RankedItem `json:"results"`
}

// RankedItem is one scored entity. Entity holds the variant named by Type.
type RankedItem struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Score        float64 `json:"score"`
	KeywordScore float64 `json:"keyword_score"`
	VectorScore  float64 `json:"vector_score"`
	Explanation  string  `json:"explanation,omitempty"`
	Entity       any     `json:"entity"`
}

// CandidateSearchRequest is the POST /candidateSearch body.
type CandidateSearchRequest struct {
	JobDescription string `json:"job_description"`
	TopK           int    `json:"top_k"`
}

// UserBody is a user profile as read and written over HTTP.
type UserBody struct {
	ID             string   `json:"id,omitempty"`
	Username       string   `json:"username"`
	Email          string   `json:"email,omitempty"`
	UserType       string   `json:"user_type,omitempty"`
	Biography      string   `json:"biography"`
	Skills         []string `json:"skills"`
	Interests      []string `json:"interests"`
	Technologies   []string `json:"technologies,omitempty"`
	Qualifications []string `json:"qualifications,omitempty"`
}

// ProjectBody is a portfolio project as read and written over HTTP.
type ProjectBody struct {
	ID          string     `json:"id,omitempty"`
	OwnerID     string     `json:"owner_id,omitempty"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Tags        []string   `json:"tags"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}

// JobBody is a job posting.
type JobBody struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Company      string     `json:"company"`
	City         string     `json:"city,omitempty"`
	State        string     `json:"state,omitempty"`
	CountryCode  string     `json:"country_code,omitempty"`
	URL          string     `json:"url,omitempty"`
	Skills       []string   `json:"skills,omitempty"`
	Industry     string     `json:"industry,omitempty"`
	WorkType     string     `json:"work_type,omitempty"`
	ContractType string     `json:"contract_type,omitempty"`
	PostedAt     *time.Time `json:"posted_at,omitempty"`
}

// PaperBody is a research paper.
type PaperBody struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Abstract  string     `json:"abstract"`
	Authors   []string   `json:"authors,omitempty"`
	URL       string     `json:"url,omitempty"`
	Published *time.Time `json:"published,omitempty"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func rankedToResponse(ranked []retrieval.Ranked) RankedResponse {
	items := make([]RankedItem, len(ranked))
	for i, r := range ranked {
		items[i] = RankedItem{
			ID:           r.Entity.ID(),
			Type:         string(r.Entity.Kind()),
			Score:        r.Score,
			KeywordScore: r.KeywordScore,
			VectorScore:  r.VectorScore,
			Explanation:  r.Explanation,
			Entity:       entityBody(r.Entity),
		}
	}
	return RankedResponse{Results: items}
}

func entityBody(e entity.Entity) any {
	switch v := e.(type) {
	case *entity.User:
		return userToBody(v)
	case *entity.Project:
		return projectToBody(v)
	case *entity.Job:
		return JobBody{
			ID:           v.JobID,
			Title:        v.Title,
			Description:  v.Description,
			Company:      v.Company,
			City:         v.City,
			State:        v.State,
			CountryCode:  v.CountryCode,
			URL:          v.URL,
			Skills:       v.Skills,
			Industry:     v.Industry,
			WorkType:     v.WorkType,
			ContractType: v.ContractType,
			PostedAt:     timePtr(v.PostedAt),
		}
	case *entity.Paper:
		return PaperBody{
			ID:        v.PaperID,
			Title:     v.Title,
			Abstract:  v.Abstract,
			Authors:   v.Authors,
			URL:       v.URL,
			Published: timePtr(v.Published),
		}
	}
	return nil
}

func userToBody(u *entity.User) UserBody {
	return UserBody{
		ID:             u.UserID,
		Username:       u.Username,
		Email:          u.Email,
		UserType:       u.UserType,
		Biography:      u.Biography,
		Skills:         u.Skills,
		Interests:      u.Interests,
		Technologies:   u.Technologies,
		Qualifications: u.Qualifications,
	}
}

func userFromBody(id string, b UserBody) *entity.User {
	return &entity.User{
		UserID:         id,
		Username:       b.Username,
		Email:          b.Email,
		UserType:       b.UserType,
		Biography:      b.Biography,
		Skills:         b.Skills,
		Interests:      b.Interests,
		Technologies:   b.Technologies,
		Qualifications: b.Qualifications,
	}
}

func projectToBody(p *entity.Project) ProjectBody {
	return ProjectBody{
		ID:          p.ProjectID,
		OwnerID:     p.OwnerID,
		Name:        p.Name,
		Description: p.Description,
		Tags:        p.Tags,
		CreatedAt:   timePtr(p.CreatedAt),
	}
}

func projectFromBody(id string, b ProjectBody) *entity.Project {
	p := &entity.Project{
		ProjectID:   id,
		Name:        b.Name,
		Description: b.Description,
		Tags:        b.Tags,
	}
	if b.CreatedAt != nil {
		p.CreatedAt = *b.CreatedAt
	}
	return p
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
