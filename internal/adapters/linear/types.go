package linear

import (
	"time"

	"github.com/Latermedia/linearbot-sub003/internal/domain"
)

type PageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

type userRef struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

type stateRef struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type idRef struct {
	ID string `json:"id"`
}

type labelNode struct {
	Name string `json:"name"`
}

type issueNode struct {
	ID          string     `json:"id"`
	Identifier  string     `json:"identifier"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Estimate    *float64   `json:"estimate"`
	Priority    int        `json:"priority"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	StartedAt   *time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
	CanceledAt  *time.Time `json:"canceledAt"`
	Team        *struct {
		Key string `json:"key"`
	} `json:"team"`
	State    *stateRef `json:"state"`
	Assignee *userRef  `json:"assignee"`
	Parent   *idRef    `json:"parent"`
	Project  *idRef    `json:"project"`
	Labels   struct {
		Nodes []labelNode `json:"nodes"`
	} `json:"labels"`
	Comments struct {
		Nodes []struct {
			CreatedAt time.Time `json:"createdAt"`
		} `json:"nodes"`
	} `json:"comments"`
}

func (n issueNode) toDomain() domain.Issue {
	iss := domain.Issue{
		ID:          n.ID,
		Key:         n.Identifier,
		Title:       n.Title,
		Description: n.Description,
		Estimate:    n.Estimate,
		Priority:    n.Priority,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
		StartedAt:   n.StartedAt,
		CompletedAt: n.CompletedAt,
		CanceledAt:  n.CanceledAt,
	}
	if n.Team != nil {
		iss.TeamKey = n.Team.Key
	}
	if n.State != nil {
		iss.StateName = n.State.Name
		iss.StateType = domain.StateType(n.State.Type)
	}
	if n.Assignee != nil {
		iss.AssigneeID = n.Assignee.ID
		iss.AssigneeName = n.Assignee.Name
		iss.AvatarURL = n.Assignee.AvatarURL
	}
	if n.Parent != nil {
		iss.ParentID = n.Parent.ID
	}
	if n.Project != nil {
		iss.ProjectID = n.Project.ID
	}
	for _, l := range n.Labels.Nodes {
		iss.Labels = append(iss.Labels, l.Name)
	}
	// The comments connection is ordered newest-first. The API exposes no
	// total, so the count is the page length, capped at the requested size.
	if len(n.Comments.Nodes) > 0 {
		t := n.Comments.Nodes[0].CreatedAt
		iss.LastCommentAt = &t
	}
	iss.CommentCount = len(n.Comments.Nodes)
	return iss
}

type projectNode struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	State  string `json:"state"`
	Status *struct {
		Name string `json:"name"`
	} `json:"status"`
	Health           string     `json:"health"`
	Description      string     `json:"description"`
	Content          string     `json:"content"`
	TargetDate       *string    `json:"targetDate"` // date-only string in the API
	ProjectedEndDate *string    `json:"projectedCompletionAt"`
	StartedAt        *time.Time `json:"startedAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	Lead             *userRef   `json:"lead"`
	ProjectUpdates   struct {
		Nodes []struct {
			Body      string    `json:"body"`
			Health    string    `json:"health"`
			CreatedAt time.Time `json:"createdAt"`
			User      *userRef  `json:"user"`
		} `json:"nodes"`
	} `json:"projectUpdates"`
}

func parseDate(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, *s); err == nil {
			return &t
		}
	}
	return nil
}

func (n projectNode) toDomain() domain.Project {
	p := domain.Project{
		ID:               n.ID,
		Name:             n.Name,
		State:            n.State,
		Health:           domain.ProjectHealth(n.Health),
		Description:      n.Description,
		Content:          n.Content,
		TargetDate:       parseDate(n.TargetDate),
		EstimatedEndDate: parseDate(n.ProjectedEndDate),
		StartedAt:        n.StartedAt,
		UpdatedAt:        n.UpdatedAt,
	}
	if n.Status != nil {
		p.Status = n.Status.Name
	} else {
		p.Status = n.State
	}
	if n.Lead != nil {
		p.LeadID = n.Lead.ID
		p.LeadName = n.Lead.Name
	}
	for _, u := range n.ProjectUpdates.Nodes {
		up := domain.ProjectUpdate{
			Body:      u.Body,
			Health:    domain.ProjectHealth(u.Health),
			CreatedAt: u.CreatedAt,
		}
		if u.User != nil {
			up.Author = u.User.Name
		}
		p.UpdateHistory = append(p.UpdateHistory, up)
		if p.LastUpdateAt == nil || u.CreatedAt.After(*p.LastUpdateAt) {
			t := u.CreatedAt
			p.LastUpdateAt = &t
		}
	}
	return p
}

type initiativeNode struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	Content         string     `json:"content"`
	Status          string     `json:"status"`
	TargetDate      *string    `json:"targetDate"`
	StartedAt       *time.Time `json:"startedAt"`
	CompletedAt     *time.Time `json:"completedAt"`
	ArchivedAt      *time.Time `json:"archivedAt"`
	Health          string     `json:"health"`
	HealthUpdatedAt *time.Time `json:"healthUpdatedAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	Owner           *userRef   `json:"owner"`
	Projects        struct {
		Nodes    []idRef  `json:"nodes"`
		PageInfo PageInfo `json:"pageInfo"`
	} `json:"projects"`
}

func (n initiativeNode) toDomain() domain.Initiative {
	ini := domain.Initiative{
		ID:              n.ID,
		Name:            n.Name,
		Description:     n.Description,
		Content:         n.Content,
		Status:          n.Status,
		TargetDate:      parseDate(n.TargetDate),
		StartedAt:       n.StartedAt,
		CompletedAt:     n.CompletedAt,
		ArchivedAt:      n.ArchivedAt,
		Health:          n.Health,
		HealthUpdatedAt: n.HealthUpdatedAt,
		UpdatedAt:       n.UpdatedAt,
	}
	if n.Owner != nil {
		ini.OwnerName = n.Owner.Name
	}
	for _, p := range n.Projects.Nodes {
		ini.ProjectIDs = append(ini.ProjectIDs, p.ID)
	}
	return ini
}

// IssuePage is one cursor-bounded batch of issues.
type IssuePage struct {
	Issues   []domain.Issue
	PageInfo PageInfo
}

// ProjectPage is one cursor-bounded batch of projects.
type ProjectPage struct {
	Projects []domain.Project
	PageInfo PageInfo
}

// InitiativePage is one cursor-bounded batch of initiatives.
type InitiativePage struct {
	Initiatives []domain.Initiative
	PageInfo    PageInfo
}
