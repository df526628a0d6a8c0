package types

import "time"

// View is the API-facing shape of one writable record kind. The write
// pipeline dispatches on Kind and tracks identity through ViewID.
type View interface {
	Kind() RequestKind
	ViewID() int64
	SetViewID(id int64)
}

// ContentView is the API shape for pages, modules, and files, including the
// child collections stored alongside the base record.
type ContentView struct {
	ID           int64             `json:"id"`
	Deleted      bool              `json:"deleted"`
	CreateUserID int64             `json:"createUserId"`
	CreateDate   time.Time         `json:"createDate"`
	Name         string            `json:"name"`
	ParentID     int64             `json:"parentId"`
	Text         string            `json:"text"`
	Type         ContentType       `json:"contentType"`
	LiteralType  string            `json:"literalType"`
	Meta         string            `json:"meta"`
	Description  string            `json:"description"`
	Hash         string            `json:"hash"`
	Keywords     []string          `json:"keywords"`
	Values       map[string]string `json:"values"`
	Permissions  map[int64]string  `json:"permissions"`

	// Server-computed fields, ignored on write.
	CommentCount   int64 `json:"commentCount"`
	WatchCount     int64 `json:"watchCount"`
	LastCommentID  int64 `json:"lastCommentId"`
	LastRevisionID int64 `json:"lastRevisionId"`
}

func (v *ContentView) Kind() RequestKind  { return KindContent }
func (v *ContentView) ViewID() int64      { return v.ID }
func (v *ContentView) SetViewID(id int64) { v.ID = id }

// MessageView is the API shape for threaded comments.
type MessageView struct {
	ID            int64             `json:"id"`
	ContentID     int64             `json:"contentId"`
	CreateUserID  int64             `json:"createUserId"`
	CreateDate    time.Time         `json:"createDate"`
	EditUserID    int64             `json:"editUserId"`
	EditDate      time.Time         `json:"editDate"`
	Text          string            `json:"text"`
	Module        string            `json:"module"`
	ReceiveUserID int64             `json:"receiveUserId"`
	Deleted       bool              `json:"deleted"`
	Values        map[string]string `json:"values"`
}

func (v *MessageView) Kind() RequestKind  { return KindMessage }
func (v *MessageView) ViewID() int64      { return v.ID }
func (v *MessageView) SetViewID(id int64) { v.ID = id }

// UserView is the API shape for users and groups. Members is meaningful only
// for group-kind views; Groups is read-only and reports memberships.
type UserView struct {
	ID           int64     `json:"id"`
	CreateUserID int64     `json:"createUserId"`
	Username     string    `json:"username"`
	Avatar       string    `json:"avatar"`
	Special      string    `json:"special"`
	Super        bool      `json:"super"`
	Type         UserType  `json:"type"`
	CreateDate   time.Time `json:"createDate"`
	Deleted      bool      `json:"deleted"`
	Groups       []int64   `json:"groups"`
	Members      []int64   `json:"members"`
}

func (v *UserView) Kind() RequestKind  { return KindUser }
func (v *UserView) ViewID() int64      { return v.ID }
func (v *UserView) SetViewID(id int64) { v.ID = id }

// WatchView is the API shape for a user following a content thread.
type WatchView struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"userId"`
	ContentID     int64     `json:"contentId"`
	LastCommentID int64     `json:"lastCommentId"`
	CreateDate    time.Time `json:"createDate"`
	EditDate      time.Time `json:"editDate"`
}

func (v *WatchView) Kind() RequestKind  { return KindWatch }
func (v *WatchView) ViewID() int64      { return v.ID }
func (v *WatchView) SetViewID(id int64) { v.ID = id }

// VoteView is the API shape for a user's vote on a content row.
type VoteView struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"userId"`
	ContentID  int64     `json:"contentId"`
	Vote       int       `json:"vote"`
	CreateDate time.Time `json:"createDate"`
}

func (v *VoteView) Kind() RequestKind  { return KindVote }
func (v *VoteView) ViewID() int64      { return v.ID }
func (v *VoteView) SetViewID(id int64) { v.ID = id }

// BanView is the API shape for moderation bans.
type BanView struct {
	ID           int64     `json:"id"`
	CreateUserID int64     `json:"createUserId"`
	BannedUserID int64     `json:"bannedUserId"`
	CreateDate   time.Time `json:"createDate"`
	ExpireDate   time.Time `json:"expireDate"`
	Message      string    `json:"message"`
	Scope        BanScope  `json:"scope"`
}

func (v *BanView) Kind() RequestKind  { return KindBan }
func (v *BanView) ViewID() int64      { return v.ID }
func (v *BanView) SetViewID(id int64) { v.ID = id }

// UserVariableView is the API shape for per-user settings.
type UserVariableView struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"userId"`
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	CreateDate time.Time `json:"createDate"`
	EditDate   time.Time `json:"editDate"`
	EditCount  int64     `json:"editCount"`
}

func (v *UserVariableView) Kind() RequestKind  { return KindUserVariable }
func (v *UserVariableView) ViewID() int64      { return v.ID }
func (v *UserVariableView) SetViewID(id int64) { v.ID = id }

// AdminLogView is the read-only API shape for audit rows.
type AdminLogView struct {
	ID          int64        `json:"id"`
	Type        AdminLogType `json:"type"`
	InitiatorID int64        `json:"initiatorId"`
	TargetID    int64        `json:"targetId"`
	CreateDate  time.Time    `json:"createDate"`
	Text        string       `json:"text"`
}

// ActivityView is the read-only API shape for content history rows.
type ActivityView struct {
	ID           int64      `json:"id"`
	ContentID    int64      `json:"contentId"`
	CreateUserID int64      `json:"createUserId"`
	CreateDate   time.Time  `json:"createDate"`
	Action       UserAction `json:"action"`
}
