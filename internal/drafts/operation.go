// Package drafts buffers Redmine writes locally so they can be reviewed,
// applied or discarded as a batch.
//
// A Proxy stands in for the real client. While draft Mode is on, its write
// methods record an Operation on the Queue instead of calling Redmine and
// hand back a result carrying a negative placeholder id. An Applier later
// replays the queued operations in order, swapping temp ids for the real
// ids returned by earlier creates.
package drafts

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/redmine-drafts/internal/redmine"
)

// OpType identifies the kind of write an Operation replays.
type OpType string

const (
	OpCreateIssue       OpType = "createIssue"
	OpUpdateIssue       OpType = "updateIssue"
	OpDeleteIssue       OpType = "deleteIssue"
	OpCreateTimeEntry   OpType = "createTimeEntry"
	OpUpdateTimeEntry   OpType = "updateTimeEntry"
	OpDeleteTimeEntry   OpType = "deleteTimeEntry"
	OpCreateVersion     OpType = "createVersion"
	OpUpdateVersion     OpType = "updateVersion"
	OpDeleteVersion     OpType = "deleteVersion"
	OpCreateRelation    OpType = "createRelation"
	OpDeleteRelation    OpType = "deleteRelation"
	OpSetIssueStatus    OpType = "setIssueStatus"
	OpSetIssueDoneRatio OpType = "setIssueDoneRatio"
	OpSetIssuePriority  OpType = "setIssuePriority"
	OpSetIssueDates     OpType = "setIssueDates"
	OpSetIssueAssignee  OpType = "setIssueAssignee"
	OpAddIssueNote      OpType = "addIssueNote"
)

// Resource is the first segment of a resource key.
type Resource string

const (
	ResourceIssue     Resource = "issue"
	ResourceTimeEntry Resource = "timeentry"
	ResourceVersion   Resource = "version"
	ResourceRelation  Resource = "relation"
)

// Facets that are not specific to a single operation type.
const (
	FacetCreate = "create"
	FacetUpdate = "update"
	FacetDelete = "delete"
	FacetNote   = "note"
)

type opDescriptor struct {
	resource Resource
	facet    string
	// envelope is the key of the created object in a create response.
	envelope string
}

var descriptors = map[OpType]opDescriptor{
	OpCreateIssue:       {ResourceIssue, FacetCreate, "issue"},
	OpUpdateIssue:       {ResourceIssue, FacetUpdate, ""},
	OpDeleteIssue:       {ResourceIssue, FacetDelete, ""},
	OpCreateTimeEntry:   {ResourceTimeEntry, FacetCreate, "time_entry"},
	OpUpdateTimeEntry:   {ResourceTimeEntry, FacetUpdate, ""},
	OpDeleteTimeEntry:   {ResourceTimeEntry, FacetDelete, ""},
	OpCreateVersion:     {ResourceVersion, FacetCreate, "version"},
	OpUpdateVersion:     {ResourceVersion, FacetUpdate, ""},
	OpDeleteVersion:     {ResourceVersion, FacetDelete, ""},
	OpCreateRelation:    {ResourceRelation, FacetCreate, "relation"},
	OpDeleteRelation:    {ResourceRelation, FacetDelete, ""},
	OpSetIssueStatus:    {ResourceIssue, "status", ""},
	OpSetIssueDoneRatio: {ResourceIssue, "done_ratio", ""},
	OpSetIssuePriority:  {ResourceIssue, "priority", ""},
	OpSetIssueDates:     {ResourceIssue, "dates", ""},
	OpSetIssueAssignee:  {ResourceIssue, "assignee", ""},
	OpAddIssueNote:      {ResourceIssue, FacetNote, ""},
}

// OpTypes returns every operation type.
func OpTypes() []OpType {
	return []OpType{
		OpCreateIssue, OpUpdateIssue, OpDeleteIssue,
		OpCreateTimeEntry, OpUpdateTimeEntry, OpDeleteTimeEntry,
		OpCreateVersion, OpUpdateVersion, OpDeleteVersion,
		OpCreateRelation, OpDeleteRelation,
		OpSetIssueStatus, OpSetIssueDoneRatio, OpSetIssuePriority,
		OpSetIssueDates, OpSetIssueAssignee, OpAddIssueNote,
	}
}

// Valid reports whether t is a known operation type.
func (t OpType) Valid() bool {
	_, ok := descriptors[t]
	return ok
}

// Resource returns the resource type t writes to.
func (t OpType) Resource() Resource { return descriptors[t].resource }

// Facet returns the part of the resource t writes.
func (t OpType) Facet() string { return descriptors[t].facet }

// IsCreate reports whether t creates a new remote resource.
func (t OpType) IsCreate() bool { return descriptors[t].facet == FacetCreate }

// IsNote reports whether t is additive: notes are never replaced or merged.
func (t OpType) IsNote() bool { return t == OpAddIssueNote }

// Operation is one queued mutation.
type Operation struct {
	ID        string    `json:"id"`
	Type      OpType    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	// IssueID and ResourceID are the remote ids the operation targets, when
	// known. A negative value is the placeholder of a queued create.
	IssueID    int `json:"issueId,omitempty"`
	ResourceID int `json:"resourceId,omitempty"`
	// TempID and PlaceholderID are set on creates: the string that stands
	// for the new resource in later payloads and the negative id handed
	// back to the caller.
	TempID        string `json:"tempId,omitempty"`
	PlaceholderID int    `json:"placeholderId,omitempty"`
	// DependsOn lists the temp ids referenced by HTTP.
	DependsOn   []string        `json:"dependsOn,omitempty"`
	Description string          `json:"description"`
	HTTP        redmine.Request `json:"http"`
	ResourceKey string          `json:"resourceKey"`
}

func (op Operation) clone() Operation {
	if op.DependsOn != nil {
		op.DependsOn = append([]string(nil), op.DependsOn...)
	}
	if op.HTTP.Body != nil {
		op.HTTP.Body = append([]byte(nil), op.HTTP.Body...)
	}
	return op
}

// References reports whether op's payload depends on tempID.
func (op Operation) References(tempID string) bool {
	for _, dep := range op.DependsOn {
		if dep == tempID {
			return true
		}
	}
	return false
}

// NewID returns a random operation id.
func NewID() string {
	return uuid.NewString()
}

// TempIDPrefix is the prefix shared by every temp id.
const TempIDPrefix = "draft-"

// NewTempID returns a placeholder string for a resource that does not
// exist yet, such as "draft-issue-<uuid>".
func NewTempID(r Resource) string {
	return TempIDPrefix + string(r) + "-" + uuid.NewString()
}

// IsTempID reports whether s was produced by NewTempID.
func IsTempID(s string) bool {
	return strings.HasPrefix(s, TempIDPrefix)
}

var lastPlaceholder atomic.Int64

// NewPlaceholderID returns a strictly negative id derived from 31 bits of a
// random UUID, so it fits an int on every platform. Real Redmine ids are positive, so the two never
// collide, and no counter has to survive restarts. Consecutive calls never
// return the same value.
func NewPlaceholderID() int {
	for {
		u := uuid.New()
		id := -int64(binary.BigEndian.Uint32(u[:4]) & math.MaxInt32)
		if id == 0 {
			id = -1
		}
		if lastPlaceholder.Swap(id) != id {
			return int(id)
		}
	}
}

// HashIdentity returns a one-way digest of s. It binds a persisted queue to
// an endpoint and credential without storing either.
func HashIdentity(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ResourceKey builds "<resource>:<id>:<facet>".
func ResourceKey(r Resource, id, facet string) string {
	return string(r) + ":" + id + ":" + facet
}

var (
	noteMu   sync.Mutex
	lastNote int64
)

// NoteKey builds a resource key for a note on issue. Each call yields a new
// ordinal so notes on the same issue never share a key.
func NoteKey(issue string) string {
	noteMu.Lock()
	n := time.Now().UnixNano()
	if n <= lastNote {
		n = lastNote + 1
	}
	lastNote = n
	noteMu.Unlock()
	return ResourceKey(ResourceIssue, issue, FacetNote) + ":" + strconv.FormatInt(n, 10)
}

// IssueKeyPrefix is the key prefix shared by every operation on issue.
func IssueKeyPrefix(issue string) string {
	return string(ResourceIssue) + ":" + issue + ":"
}
