package jobs

import "time"

// Job is the current mutable state of a repair job.
type Job struct {
	JobRef                 string     `json:"job_ref"`
	SerialNumber           string     `json:"serial_number"`
	ProductRef             string     `json:"product_ref"`
	CustomerRef            string     `json:"customer_ref"`
	ServiceRef             string     `json:"service_ref"`
	JobStatus              string     `json:"job_status"`
	ActionStatus           int        `json:"action_status"`
	ErrorMessage           *string    `json:"error_message,omitempty"`
	ExpectedCompletionDate *time.Time `json:"expected_completion_date,omitempty"`
	CustomerContact        string     `json:"customer_contact"`
	CreatedAt              time.Time  `json:"created_at"`
}

// HistoryEntry is one append-only row of the job history log.
type HistoryEntry struct {
	ID           int64     `json:"id"`
	JobRef       string    `json:"job_ref"`
	ProductRef   string    `json:"product_ref"`
	SerialNumber string    `json:"serial_number"`
	Quantity     int       `json:"quantity"`
	Unit         string    `json:"unit"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Active       int       `json:"active"`
	JobStatus    string    `json:"job_status"`
	Remark       *string   `json:"remark,omitempty"`
	CreatedBy    *string   `json:"created_by,omitempty"`
	UpdatedBy    *string   `json:"updated_by,omitempty"`
}

// ActionRow records the last action a service account took on a job.
type ActionRow struct {
	JobRef     string    `json:"job_ref"`
	ServiceRef string    `json:"service_ref"`
	Status     int       `json:"status"`
	JobStatus  *string   `json:"job_status,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Image is an attachment URL bound to a job and labelled with the status it
// was taken in.
type Image struct {
	ID     int64  `json:"-"`
	JobRef string `json:"-"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

// Snapshot is the joined view read back inside a transition to populate the
// new history entry.
type Snapshot struct {
	JobRef          string
	ProductRef      string
	SerialNumber    string
	Quantity        int
	Unit            string
	CreatedAt       time.Time
	JobStatus       string
	CustomerRef     string
	CustomerContact string
}

// Customer is the subset of customer fields returned with a job.
type Customer struct {
	CustomerRef string `json:"customer_ref"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
}

// Product is the subset of product fields returned with a job.
type Product struct {
	ProductRef  string `json:"product_ref"`
	ProductName string `json:"product_name"`
	SKU         string `json:"sku"`
	Category    string `json:"category"`
	Brand       string `json:"brand"`
}

// Detail is the read model for a single job.
type Detail struct {
	Job      Job           `json:"job"`
	Customer *Customer     `json:"customer,omitempty"`
	Product  *Product      `json:"product,omitempty"`
	Latest   *HistoryEntry `json:"latest,omitempty"`
	Images   []Image       `json:"images"`
}

// Summary is one row of the job list: the job joined with its latest
// history entry.
type Summary struct {
	JobRef                 string     `json:"job_ref"`
	SerialNumber           string     `json:"serial_number"`
	CreatedAt              time.Time  `json:"created_at"`
	LatestUpdateAt         time.Time  `json:"latest_update_at"`
	JobStatus              string     `json:"job_status"`
	LatestUpdateBy         *string    `json:"latest_update_by,omitempty"`
	ExpectedCompletionDate *time.Time `json:"expected_completion_date,omitempty"`
	CustomerContact        string     `json:"customer_contact"`
	ServiceRef             string     `json:"service_ref"`
	Username               string     `json:"username"`
	ProductName            string     `json:"product_name"`
	SKU                    string     `json:"sku"`
}

// LineItem is one initial history row supplied at job creation.
type LineItem struct {
	ProductRef   string `json:"product_ref"`
	SerialNumber string `json:"serial_number"`
	Quantity     int    `json:"quantity" validate:"gte=0"`
	Unit         string `json:"unit"`
	JobStatus    string `json:"job_status"`
	ServiceRef   string `json:"service_ref"`
}

// CreateInput carries everything needed to open a job.
type CreateInput struct {
	JobRef                 string     `json:"job_ref" validate:"required"`
	SerialNumber           string     `json:"serial_number"`
	ProductRef             string     `json:"product_ref" validate:"required"`
	CustomerRef            string     `json:"customer_ref" validate:"required"`
	ServiceRef             string     `json:"service_ref" validate:"required"`
	JobStatus              string     `json:"job_status" validate:"required"`
	ExpectedCompletionDate *time.Time `json:"expected_completion_date"`
	CustomerContact        string     `json:"customer_contact"`
	Items                  []LineItem `json:"items" validate:"dive"`
	Images                 []string   `json:"images" validate:"dive,required"`
}

// TransitionInput moves a job to a new status on behalf of an actor.
type TransitionInput struct {
	JobRef    string `json:"job_ref" validate:"required"`
	NewStatus string `json:"job_status" validate:"required"`
	ActorRef  string `json:"actor_ref" validate:"required"`
}

// RemarkInput patches the remark of the latest history entry and attaches
// images.
type RemarkInput struct {
	JobRef    string   `json:"job_ref" validate:"required"`
	Remark    string   `json:"remark" validate:"required"`
	JobStatus string   `json:"job_status" validate:"required"`
	Images    []string `json:"images" validate:"dive,required"`
}
