package models

import "time"

type GenerationStatus string

const (
	StatusPending    GenerationStatus = "pending"
	StatusProcessing GenerationStatus = "processing"
	StatusCompleted  GenerationStatus = "completed"
	StatusFailed     GenerationStatus = "failed"
)

// CreditSource names the pool that pays for a generation.
type CreditSource string

const (
	CreditSourceIndividual CreditSource = "individual"
	CreditSourceTeam       CreditSource = "team"
)

func (c CreditSource) Valid() bool {
	return c == CreditSourceIndividual || c == CreditSourceTeam
}

type TransactionType string

const (
	TxReservation TransactionType = "reservation"
	TxRefund      TransactionType = "refund"
	TxGrant       TransactionType = "grant"
)

type AssetType string

const (
	AssetSelfie     AssetType = "selfie"
	AssetBackground AssetType = "background"
	AssetLogo       AssetType = "logo"
)

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

type Team struct {
	ID          string
	Name        string
	AdminUserID string
	Credits     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type TeamInvite struct {
	Token            string
	TeamID           string
	ContextID        string
	CreditAllocation int
	CreatedAt        time.Time
}

// Person is the credit and ownership anchor for generations.
type Person struct {
	ID               string
	UserID           string
	Name             string
	TeamID           string
	InviteToken      string
	Credits          int
	CreditAllocation int
	AllocationUsed   int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Invited reports whether the person joined through a team invite.
func (p *Person) Invited() bool {
	return p.InviteToken != ""
}

func (p *Person) InTeam() bool {
	return p.TeamID != ""
}

type Subscription struct {
	UserID    string
	Tier      string
	Period    string
	Status    SubscriptionStatus
	UpdatedAt time.Time
}

type Package struct {
	ID                string
	Name              string
	VisibleCategories []string
	Defaults          []byte
	CreatedAt         time.Time
}

// StyleContext is a named style preset.
type StyleContext struct {
	ID        string
	UserID    string
	TeamID    string
	Name      string
	Settings  []byte
	CreatedAt time.Time
}

type Selfie struct {
	ID        string
	PersonID  string
	Key       string
	AssetID   string
	CreatedAt time.Time
}

type Asset struct {
	ID          string
	OwnerScope  string
	RawRef      string
	Type        AssetType
	ContentType string
	SizeBytes   int64
	ETag        string
	CreatedAt   time.Time
}

type Generation struct {
	ID                     string
	PersonID               string
	UserID                 string
	ContextID              string
	PackageID              string
	Status                 GenerationStatus
	CreditSource           CreditSource
	CreditsUsed            int
	Provider               string
	GeneratedKeys          []string
	AcceptedKey            string
	MaxRegenerations       int
	RemainingRegenerations int
	GroupID                string
	IsOriginal             bool
	GroupIndex             int
	StyleSettings          []byte
	Fingerprint            string
	JobID                  string
	ErrorMessage           string
	Deleted                bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
	CompletedAt            *time.Time
	AcceptedAt             *time.Time
}

// CreditTransaction is an append-only ledger entry.
type CreditTransaction struct {
	ID           string
	PersonID     string
	TeamID       string
	Pool         CreditSource
	GenerationID string
	Type         TransactionType
	Delta        int
	CreatedAt    time.Time
}

type GenerationCost struct {
	GenerationID string
	Provider     string
	CostMicros   int64
	RecordedAt   time.Time
}

type SecurityEvent struct {
	ID          string
	PrincipalID string
	Kind        string
	Detail      string
	CreatedAt   time.Time
}
