// Package storage holds the two consumed boundaries: the remote row store
// (tables + command queue) and the durable local key-value surface.
package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"nextup/domain"
)

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Remote provides access to the hosted store: task and project tables for
// reads, and a command queue for writes. Commands are sent strictly in the
// order given, one at a time, since later mutations on the same task depend
// on earlier ones.
type Remote struct {
	taskTable    *aztables.Client
	projectTable *aztables.Client
	commandQueue queueClient
}

// NewRemote creates a Remote from the given connection string.
func NewRemote(connStr, tasksTable, projectsTable, commandQueue string) (*Remote, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	tt := svc.NewClient(tasksTable)
	pt := svc.NewClient(projectsTable)
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	cq, err := azqueue.NewQueueClientFromConnectionString(connStr, commandQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Remote{taskTable: tt, projectTable: pt, commandQueue: cq}, nil
}

type taskEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Notes       string `json:"Notes"`
	Status      string `json:"Status"`
	ProjectID   string `json:"ProjectId"`
	TaskContext string `json:"Context"`
	Energy      string `json:"Energy"`
	Duration    string `json:"Duration"`
	Priority    int    `json:"Priority"`
	Due         string `json:"Due"`
	WaitingOn   string `json:"WaitingOn"`
	Tags        string `json:"Tags"`
	CompletedAt string `json:"CompletedAt"`
	CreatedAt   string `json:"CreatedAt"`
	UpdatedAt   string `json:"UpdatedAt"`
}

func (e taskEntity) toTask() domain.Task {
	t := domain.Task{
		ID:        e.RowKey,
		Title:     e.Title,
		Notes:     e.Notes,
		Status:    domain.Status(e.Status),
		ProjectID: e.ProjectID,
		Context:   domain.Context(e.TaskContext),
		Energy:    domain.Energy(e.Energy),
		Duration:  domain.Duration(e.Duration),
		Priority:  e.Priority,
		WaitingOn: e.WaitingOn,
	}
	t.Due = parseTimePtr(e.Due)
	t.CompletedAt = parseTimePtr(e.CompletedAt)
	t.CreatedAt = parseTime(e.CreatedAt)
	t.UpdatedAt = parseTime(e.UpdatedAt)
	if e.Tags != "" {
		_ = sonic.UnmarshalString(e.Tags, &t.Tags)
	}
	return t
}

type projectEntity struct {
	aztables.Entity
	Name      string `json:"Name"`
	Status    string `json:"Status"`
	CreatedAt string `json:"CreatedAt"`
	UpdatedAt string `json:"UpdatedAt"`
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &ts
}

// FetchTasks retrieves all tasks for the provided user, newest first.
func (r *Remote) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + userID + "'"
	pager := r.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			tasks = append(tasks, ent.toTask())
		}
	}
	sortTasksNewestFirst(tasks)
	return tasks, nil
}

func sortTasksNewestFirst(tasks []domain.Task) {
	for i := 1; i < len(tasks); i++ {
		for j := i; j > 0 && tasks[j].CreatedAt.After(tasks[j-1].CreatedAt); j-- {
			tasks[j], tasks[j-1] = tasks[j-1], tasks[j]
		}
	}
}

// FetchProjects retrieves all projects for the provided user.
func (r *Remote) FetchProjects(ctx context.Context, userID string) ([]domain.Project, error) {
	filter := "PartitionKey eq '" + userID + "'"
	pager := r.projectTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	projects := []domain.Project{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent projectEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			projects = append(projects, domain.Project{
				ID:        ent.RowKey,
				Name:      ent.Name,
				Status:    domain.ProjectStatus(ent.Status),
				CreatedAt: parseTime(ent.CreatedAt),
				UpdatedAt: parseTime(ent.UpdatedAt),
			})
		}
	}
	return projects, nil
}

// SendCommands delivers the given commands to the backend command queue in
// order. The backend applies them idempotently by key, so at-least-once
// delivery converges.
func (r *Remote) SendCommands(ctx context.Context, userID string, cmds []domain.Command) error {
	for _, cmd := range cmds {
		env := domain.CommandEnvelope{UserID: userID, Command: cmd}
		data, err := sonic.MarshalString(env)
		if err != nil {
			return err
		}
		if _, err := r.commandQueue.EnqueueMessage(ctx, data, nil); err != nil {
			return err
		}
	}
	return nil
}
