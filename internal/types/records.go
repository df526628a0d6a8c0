package types

import "time"

// Storage records. Column names deliberately match the API field names so the
// query compiler can select them without an alias layer.

// Content is the base record for pages, modules, and files.
type Content struct {
	ID           int64       `gorm:"column:id;primaryKey;autoIncrement"`
	Deleted      bool        `gorm:"column:deleted;not null;default:false;index"`
	CreateUserID int64       `gorm:"column:createUserId;not null;index"`
	CreateDate   time.Time   `gorm:"column:createDate;not null"`
	Name         string      `gorm:"column:name;size:256;not null;index"`
	ParentID     int64       `gorm:"column:parentId;not null;default:0;index"`
	Text         string      `gorm:"column:text;type:text;not null;default:''"`
	ContentType  ContentType `gorm:"column:contentType;not null;default:0;index"`
	LiteralType  string      `gorm:"column:literalType;size:64;not null;default:''"`
	Meta         string      `gorm:"column:meta;size:256;not null;default:''"`
	Description  string      `gorm:"column:description;size:512;not null;default:''"`
	Hash         string      `gorm:"column:hash;size:16;uniqueIndex;not null"`
}

func (Content) TableName() string { return "contents" }

// ContentKeyword is one keyword attached to a content row.
type ContentKeyword struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement"`
	ContentID int64  `gorm:"column:contentId;not null;index"`
	Keyword   string `gorm:"column:keyword;size:64;not null;index"`
}

func (ContentKeyword) TableName() string { return "content_keywords" }

// ContentValue is one free-form key/value pair attached to a content row.
type ContentValue struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement"`
	ContentID int64  `gorm:"column:contentId;not null;index"`
	Key       string `gorm:"column:key;size:64;not null;index"`
	Value     string `gorm:"column:value;type:text;not null"`
}

func (ContentValue) TableName() string { return "content_values" }

// ContentPermission grants one identity a set of CRUD bits on one content row.
// Identity 0 is "everyone".
type ContentPermission struct {
	ID        int64 `gorm:"column:id;primaryKey;autoIncrement"`
	ContentID int64 `gorm:"column:contentId;not null;index:idx_perm_content_user,priority:1"`
	UserID    int64 `gorm:"column:userId;not null;index:idx_perm_content_user,priority:2"`
	Create    bool  `gorm:"column:create;not null;default:false"`
	Read      bool  `gorm:"column:read;not null;default:false"`
	Update    bool  `gorm:"column:update;not null;default:false"`
	Delete    bool  `gorm:"column:delete;not null;default:false"`
}

func (ContentPermission) TableName() string { return "content_permissions" }

// ContentHistory is an immutable snapshot row written on every content mutation.
type ContentHistory struct {
	ID           int64      `gorm:"column:id;primaryKey;autoIncrement"`
	ContentID    int64      `gorm:"column:contentId;not null;index"`
	CreateUserID int64      `gorm:"column:createUserId;not null"`
	CreateDate   time.Time  `gorm:"column:createDate;not null"`
	Action       UserAction `gorm:"column:action;size:16;not null"`
	Snapshot     string     `gorm:"column:snapshot;type:text;not null"`
}

func (ContentHistory) TableName() string { return "content_history" }

// Message is a threaded comment attached to a content row.
type Message struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ContentID     int64     `gorm:"column:contentId;not null;index"`
	CreateUserID  int64     `gorm:"column:createUserId;not null;index"`
	CreateDate    time.Time `gorm:"column:createDate;not null"`
	EditUserID    int64     `gorm:"column:editUserId;not null;default:0"`
	EditDate      time.Time `gorm:"column:editDate"`
	Text          string    `gorm:"column:text;type:text;not null;default:''"`
	Module        string    `gorm:"column:module;size:64;not null;default:'';index"`
	ReceiveUserID int64     `gorm:"column:receiveUserId;not null;default:0"`
	Deleted       bool      `gorm:"column:deleted;not null;default:false;index"`
}

func (Message) TableName() string { return "messages" }

// MessageValue is one key/value pair attached to a message (edit markers,
// rethread stamps, module metadata).
type MessageValue struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement"`
	MessageID int64  `gorm:"column:messageId;not null;index"`
	Key       string `gorm:"column:key;size:64;not null"`
	Value     string `gorm:"column:value;type:text;not null"`
}

func (MessageValue) TableName() string { return "message_values" }

// MessageHistory is an immutable snapshot row written on every message mutation.
type MessageHistory struct {
	ID           int64      `gorm:"column:id;primaryKey;autoIncrement"`
	MessageID    int64      `gorm:"column:messageId;not null;index"`
	CreateUserID int64      `gorm:"column:createUserId;not null"`
	CreateDate   time.Time  `gorm:"column:createDate;not null"`
	Action       UserAction `gorm:"column:action;size:16;not null"`
	Snapshot     string     `gorm:"column:snapshot;type:text;not null"`
}

func (MessageHistory) TableName() string { return "message_history" }

// User is an account or a group, discriminated by Type.
type User struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	CreateUserID int64     `gorm:"column:createUserId;not null;default:0"`
	Username     string    `gorm:"column:username;size:64;not null;uniqueIndex"`
	Avatar       string    `gorm:"column:avatar;size:16;not null;default:''"`
	Special      string    `gorm:"column:special;size:64;not null;default:''"`
	Super        bool      `gorm:"column:super;not null;default:false"`
	Type         UserType  `gorm:"column:type;not null;default:1;index"`
	CreateDate   time.Time `gorm:"column:createDate;not null"`
	Deleted      bool      `gorm:"column:deleted;not null;default:false;index"`
}

func (User) TableName() string { return "users" }

// UserRelation links users to groups.
type UserRelation struct {
	ID        int64 `gorm:"column:id;primaryKey;autoIncrement"`
	Type      int   `gorm:"column:type;not null;index:idx_relation_lookup,priority:1"`
	UserID    int64 `gorm:"column:userId;not null;index:idx_relation_lookup,priority:2"`
	RelatedID int64 `gorm:"column:relatedId;not null;index:idx_relation_lookup,priority:3"`
}

func (UserRelation) TableName() string { return "user_relations" }

// Ban blocks a user from writing into one or both visibility classes until it
// expires. Bans are amended, never deleted.
type Ban struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	CreateUserID int64     `gorm:"column:createUserId;not null"`
	BannedUserID int64     `gorm:"column:bannedUserId;not null;index"`
	CreateDate   time.Time `gorm:"column:createDate;not null"`
	ExpireDate   time.Time `gorm:"column:expireDate;not null;index"`
	Message      string    `gorm:"column:message;size:512;not null;default:''"`
	Scope        BanScope  `gorm:"column:scope;not null;default:0"`
}

func (Ban) TableName() string { return "bans" }

// ContentWatch marks a user following a content thread.
type ContentWatch struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID        int64     `gorm:"column:userId;not null;index:idx_watch_user_content,priority:1"`
	ContentID     int64     `gorm:"column:contentId;not null;index:idx_watch_user_content,priority:2"`
	LastCommentID int64     `gorm:"column:lastCommentId;not null;default:0"`
	CreateDate    time.Time `gorm:"column:createDate;not null"`
	EditDate      time.Time `gorm:"column:editDate"`
}

func (ContentWatch) TableName() string { return "content_watches" }

// ContentVote records one user's vote on one content row.
type ContentVote struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID     int64     `gorm:"column:userId;not null;index:idx_vote_user_content,priority:1"`
	ContentID  int64     `gorm:"column:contentId;not null;index:idx_vote_user_content,priority:2"`
	Vote       int       `gorm:"column:vote;not null;default:0"`
	CreateDate time.Time `gorm:"column:createDate;not null"`
}

func (ContentVote) TableName() string { return "content_votes" }

// UserVariable is a per-user key/value setting.
type UserVariable struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID     int64     `gorm:"column:userId;not null;index:idx_variable_user_key,priority:1"`
	Key        string    `gorm:"column:key;size:64;not null;index:idx_variable_user_key,priority:2"`
	Value      string    `gorm:"column:value;type:text;not null;default:''"`
	CreateDate time.Time `gorm:"column:createDate;not null"`
	EditDate   time.Time `gorm:"column:editDate"`
	EditCount  int64     `gorm:"column:editCount;not null;default:0"`
}

func (UserVariable) TableName() string { return "user_variables" }

// AdminLog is an append-only audit row written by the write pipeline.
type AdminLog struct {
	ID          int64        `gorm:"column:id;primaryKey;autoIncrement"`
	Type        AdminLogType `gorm:"column:type;not null;index"`
	InitiatorID int64        `gorm:"column:initiatorId;not null;index"`
	TargetID    int64        `gorm:"column:targetId;not null;index"`
	CreateDate  time.Time    `gorm:"column:createDate;not null"`
	Text        string       `gorm:"column:text;size:512;not null"`
}

func (AdminLog) TableName() string { return "admin_log" }

// AllRecords lists every storage model for schema migration.
func AllRecords() []any {
	return []any{
		&Content{}, &ContentKeyword{}, &ContentValue{}, &ContentPermission{},
		&ContentHistory{}, &Message{}, &MessageValue{}, &MessageHistory{},
		&User{}, &UserRelation{},
		&Ban{}, &ContentWatch{}, &ContentVote{}, &UserVariable{}, &AdminLog{},
	}
}
