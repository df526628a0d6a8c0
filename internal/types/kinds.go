// Package types holds the storage records, API views, and per-kind metadata
// descriptors the search engine and write pipeline are driven by.
package types

// RequestKind names a logical record category, independent of the table
// backing it.
type RequestKind string

const (
	KindContent      RequestKind = "content"
	KindModule       RequestKind = "module"
	KindFile         RequestKind = "file"
	KindMessage      RequestKind = "message"
	KindUser         RequestKind = "user"
	KindWatch        RequestKind = "watch"
	KindVote         RequestKind = "vote"
	KindBan          RequestKind = "ban"
	KindUserVariable RequestKind = "uservariable"
	KindAdminLog     RequestKind = "adminlog"
	KindActivity     RequestKind = "activity"
)

// ContentType discriminates rows within the contents table.
type ContentType int

const (
	// ContentTypeSystem is reserved for internal rows and can never be
	// created through the write pipeline.
	ContentTypeSystem ContentType = 0
	ContentTypePage   ContentType = 1
	ContentTypeModule ContentType = 2
	ContentTypeFile   ContentType = 3
)

// UserType discriminates ordinary users from groups.
type UserType int

const (
	UserTypeUser  UserType = 1
	UserTypeGroup UserType = 2
)

// BanScope is a bitmask of the visibility classes a ban blocks.
type BanScope int

const (
	BanScopeNone    BanScope = 0
	BanScopePublic  BanScope = 1
	BanScopePrivate BanScope = 2
	BanScopeAll     BanScope = BanScopePublic | BanScopePrivate
)

// RelationInGroup marks a user_relations row that places userId inside the
// group relatedId.
const RelationInGroup = 1

// UserAction names the mutation requested of the write pipeline.
type UserAction string

const (
	ActionCreate UserAction = "create"
	ActionUpdate UserAction = "update"
	ActionDelete UserAction = "delete"
)

// AdminLogType tags audit rows by the mutation category that produced them.
type AdminLogType int

const (
	AdminLogNone            AdminLogType = 0
	AdminLogUserCreate      AdminLogType = 1
	AdminLogUserDelete      AdminLogType = 2
	AdminLogUsernameChange  AdminLogType = 3
	AdminLogGroupChange     AdminLogType = 4
	AdminLogModuleCreate    AdminLogType = 5
	AdminLogModuleUpdate    AdminLogType = 6
	AdminLogModuleDelete    AdminLogType = 7
	AdminLogBanCreate       AdminLogType = 8
	AdminLogBanUpdate       AdminLogType = 9
	AdminLogContentRestore  AdminLogType = 10
	AdminLogMessageRethread AdminLogType = 11
)
