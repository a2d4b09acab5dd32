package enrollment

import (
	"time"

	"gorm.io/datatypes"
)

type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "PENDING"
	ApplicationApproved ApplicationStatus = "APPROVED"
	ApplicationRejected ApplicationStatus = "REJECTED"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusSuspended Status = "SUSPENDED"
)

type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "PENDING"
	InstallmentPaid    InstallmentStatus = "PAID"
	InstallmentOverdue InstallmentStatus = "OVERDUE"
)

type ActivationPolicy string

const (
	PolicyAllPaid ActivationPolicy = "ALL_PAID"
	PolicyUpfront ActivationPolicy = "UPFRONT"
)

type Course struct {
	ID             int64     `json:"id" gorm:"primaryKey"`
	Title          string    `json:"title" gorm:"column:title;not null"`
	Price          int64     `json:"price" gorm:"column:price;not null"`
	ApplicationFee int64     `json:"application_fee" gorm:"column:application_fee;not null;default:0"`
	Currency       string    `json:"currency" gorm:"column:currency;not null"`
	CreatedAt      time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (Course) TableName() string {
	return "courses"
}

type Application struct {
	ID         int64             `json:"id" gorm:"primaryKey"`
	UserID     int64             `json:"user_id" gorm:"column:user_id;not null;uniqueIndex:idx_applications_user_course"`
	CourseID   int64             `json:"course_id" gorm:"column:course_id;not null;uniqueIndex:idx_applications_user_course"`
	Status     ApplicationStatus `json:"status" gorm:"column:status;not null"`
	FormData   datatypes.JSON    `json:"form_data,omitempty" gorm:"column:form_data"`
	ReviewedBy *string           `json:"reviewed_by,omitempty" gorm:"column:reviewed_by"`
	ReviewedAt *time.Time        `json:"reviewed_at,omitempty" gorm:"column:reviewed_at"`
	CreatedAt  time.Time         `json:"created_at" gorm:"column:created_at"`
	UpdatedAt  time.Time         `json:"updated_at" gorm:"column:updated_at"`
}

func (Application) TableName() string {
	return "applications"
}

type Enrollment struct {
	ID               int64     `json:"id" gorm:"primaryKey"`
	UserID           int64     `json:"user_id" gorm:"column:user_id;not null;uniqueIndex:idx_enrollments_user_course"`
	CourseID         int64     `json:"course_id" gorm:"column:course_id;not null;uniqueIndex:idx_enrollments_user_course"`
	ApplicationID    *int64    `json:"application_id,omitempty" gorm:"column:application_id"`
	Status           Status    `json:"status" gorm:"column:status;not null"`
	Progress         int       `json:"progress" gorm:"column:progress;not null;default:0"`
	TimeSpentSeconds int64     `json:"time_spent_seconds" gorm:"column:time_spent_seconds;not null;default:0"`
	CreatedAt        time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt        time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (Enrollment) TableName() string {
	return "enrollments"
}

type InstallmentPlan struct {
	ID               int64            `json:"id" gorm:"primaryKey"`
	UserID           int64            `json:"user_id" gorm:"column:user_id;not null;index"`
	CourseID         int64            `json:"course_id" gorm:"column:course_id;not null"`
	EnrollmentID     *int64           `json:"enrollment_id,omitempty" gorm:"column:enrollment_id"`
	TotalAmount      int64            `json:"total_amount" gorm:"column:total_amount;not null"`
	Currency         string           `json:"currency" gorm:"column:currency;not null"`
	InstallmentCount int              `json:"installment_count" gorm:"column:installment_count;not null"`
	ActivationPolicy ActivationPolicy `json:"activation_policy" gorm:"column:activation_policy;not null"`
	UpfrontCount     int              `json:"upfront_count" gorm:"column:upfront_count;not null;default:0"`
	Installments     []Installment    `json:"installments,omitempty" gorm:"foreignKey:PlanID"`
	CreatedAt        time.Time        `json:"created_at" gorm:"column:created_at"`
	UpdatedAt        time.Time        `json:"updated_at" gorm:"column:updated_at"`
}

func (InstallmentPlan) TableName() string {
	return "installment_plans"
}

type Installment struct {
	ID                int64             `json:"id" gorm:"primaryKey"`
	PlanID            int64             `json:"plan_id" gorm:"column:plan_id;not null;uniqueIndex:idx_installments_plan_number"`
	InstallmentNumber int               `json:"installment_number" gorm:"column:installment_number;not null;uniqueIndex:idx_installments_plan_number"`
	Amount            int64             `json:"amount" gorm:"column:amount;not null"`
	DueDate           time.Time         `json:"due_date" gorm:"column:due_date;not null"`
	Status            InstallmentStatus `json:"status" gorm:"column:status;not null"`
	PaidAt            *time.Time        `json:"paid_at,omitempty" gorm:"column:paid_at"`
	CreatedAt         time.Time         `json:"created_at" gorm:"column:created_at"`
	UpdatedAt         time.Time         `json:"updated_at" gorm:"column:updated_at"`
}

func (Installment) TableName() string {
	return "installments"
}
