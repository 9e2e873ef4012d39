package storage

import (
	"time"

	"github.com/bytedance/sonic"

	"github.com/priyankagnana/Kanvo/domain"
)

const (
	kindBoard   = "board"
	kindSection = "section"
	kindTask    = "task"
	kindScope   = "scope"

	edmInt64 = "Edm.Int64"
)

type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type boardEntity struct {
	entityKeys
	Kind              string    `json:"Kind"`
	Icon              string    `json:"Icon"`
	Title             string    `json:"Title"`
	Description       string    `json:"Description"`
	Position          int       `json:"Position"`
	Favourite         bool      `json:"Favourite"`
	FavouritePosition int       `json:"FavouritePosition"`
	CreatedAt         time.Time `json:"CreatedAt"`
	UpdatedAt         time.Time `json:"UpdatedAt"`
}

type sectionEntity struct {
	entityKeys
	Kind      string    `json:"Kind"`
	Title     string    `json:"Title"`
	CreatedAt time.Time `json:"CreatedAt"`
}

type taskEntity struct {
	entityKeys
	Kind      string     `json:"Kind"`
	Section   string     `json:"Section"`
	Title     string     `json:"Title"`
	Content   string     `json:"Content"`
	Position  int        `json:"Position"`
	Priority  string     `json:"Priority"`
	Status    string     `json:"Status"`
	Tags      string     `json:"Tags"`
	DueDate   *time.Time `json:"DueDate,omitempty"`
	CreatedAt time.Time  `json:"CreatedAt"`
	UpdatedAt time.Time  `json:"UpdatedAt"`
}

// scopeEntity is the version marker of an ordered scope.
type scopeEntity struct {
	entityKeys
	Kind        string `json:"Kind"`
	Version     int64  `json:"Version,string"`
	VersionType string `json:"Version@odata.type"`
}

// positionPatch is merged into a member row by a reindex.
type positionPatch struct {
	entityKeys
	Position          *int    `json:"Position,omitempty"`
	FavouritePosition *int    `json:"FavouritePosition,omitempty"`
	Section           *string `json:"Section,omitempty"`
}

func encode(v any) ([]byte, error) {
	return sonic.ConfigStd.Marshal(v)
}

func unmarshalEntity(data []byte, v any) error {
	return sonic.ConfigStd.Unmarshal(data, v)
}

func fromBoard(b domain.Board) boardEntity {
	return boardEntity{
		entityKeys:        entityKeys{PartitionKey: b.UserID, RowKey: b.ID},
		Kind:              kindBoard,
		Icon:              b.Icon,
		Title:             b.Title,
		Description:       b.Description,
		Position:          b.Position,
		Favourite:         b.Favourite,
		FavouritePosition: b.FavouritePosition,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
}

func decodeBoard(data []byte) (domain.Board, error) {
	var ent boardEntity
	if err := unmarshalEntity(data, &ent); err != nil {
		return domain.Board{}, err
	}
	return domain.Board{
		ID:                ent.RowKey,
		UserID:            ent.PartitionKey,
		Icon:              ent.Icon,
		Title:             ent.Title,
		Description:       ent.Description,
		Position:          ent.Position,
		Favourite:         ent.Favourite,
		FavouritePosition: ent.FavouritePosition,
		CreatedAt:         ent.CreatedAt,
		UpdatedAt:         ent.UpdatedAt,
	}, nil
}

func fromSection(s domain.Section) sectionEntity {
	return sectionEntity{
		entityKeys: entityKeys{PartitionKey: s.BoardID, RowKey: s.ID},
		Kind:       kindSection,
		Title:      s.Title,
		CreatedAt:  s.CreatedAt,
	}
}

func decodeSection(data []byte) (domain.Section, error) {
	var ent sectionEntity
	if err := unmarshalEntity(data, &ent); err != nil {
		return domain.Section{}, err
	}
	return domain.Section{ID: ent.RowKey, BoardID: ent.PartitionKey, Title: ent.Title, CreatedAt: ent.CreatedAt}, nil
}

func fromTask(t domain.Task) (taskEntity, error) {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	// tables have no array type, tags are kept as a JSON string
	encodedTags, err := sonic.ConfigStd.MarshalToString(tags)
	if err != nil {
		return taskEntity{}, err
	}
	return taskEntity{
		entityKeys: entityKeys{PartitionKey: t.BoardID, RowKey: t.ID},
		Kind:       kindTask,
		Section:    t.SectionID,
		Title:      t.Title,
		Content:    t.Content,
		Position:   t.Position,
		Priority:   string(t.Priority),
		Status:     string(t.Status),
		Tags:       encodedTags,
		DueDate:    t.DueDate,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}, nil
}

func decodeTask(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := unmarshalEntity(data, &ent); err != nil {
		return domain.Task{}, err
	}
	tags := []string{}
	if ent.Tags != "" {
		if err := sonic.ConfigStd.UnmarshalFromString(ent.Tags, &tags); err != nil {
			return domain.Task{}, err
		}
	}
	return domain.Task{
		ID:        ent.RowKey,
		BoardID:   ent.PartitionKey,
		SectionID: ent.Section,
		Title:     ent.Title,
		Content:   ent.Content,
		Position:  ent.Position,
		Priority:  domain.Priority(ent.Priority),
		Status:    domain.Status(ent.Status),
		Tags:      tags,
		DueDate:   ent.DueDate,
		CreatedAt: ent.CreatedAt,
		UpdatedAt: ent.UpdatedAt,
	}, nil
}

// scopeKeys returns the table partition and row key of a scope marker.
func scopeKeys(scope domain.Scope) (partitionKey, rowKey string) {
	switch scope.Kind {
	case domain.ScopeTasks:
		return scope.Owner, scopeRowPrefix + "section~" + scope.Section
	default:
		return scope.Owner, scopeRowPrefix + string(scope.Kind)
	}
}
