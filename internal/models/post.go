// Package models contains data structures for the application's domain models.
package models

import (
	"time"
)

// Status is the lifecycle state of a report.
type Status string

const (
	StatusInit     Status = "Init"
	StatusPending  Status = "Pending"
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"
	StatusSettled  Status = "Settled"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusInit, StatusPending, StatusApproved, StatusRejected, StatusSettled:
		return true
	}
	return false
}

// transitions lists the only legal forward edges of the lifecycle.
var transitions = map[Status]Status{
	StatusInit:     StatusPending,
	StatusApproved: StatusSettled,
}

// CanTransition reports whether a post may move from one status to another.
func CanTransition(from, to Status) bool {
	if from == StatusPending {
		return to == StatusApproved || to == StatusRejected
	}
	next, ok := transitions[from]
	return ok && next == to
}

// AnonymityPreference controls whether the reporter's name is shown publicly.
type AnonymityPreference string

const (
	AnonymityPublic    AnonymityPreference = "Public"
	AnonymityAnonymous AnonymityPreference = "Anonymous"
)

// Post is a scam/fraud report. The DynamoDB "Posts" table is its system of record.
type Post struct {
	ID                  string              `dynamodbav:"Id" json:"id"`
	Status              Status              `dynamodbav:"Status" json:"status"`
	ScamType            string              `dynamodbav:"ScamType,omitempty" json:"scam_type,omitempty"`
	Title               string              `dynamodbav:"Title,omitempty" json:"title,omitempty"`
	Description         string              `dynamodbav:"Description,omitempty" json:"description,omitempty"`
	TransactionMode     string              `dynamodbav:"TransactionMode,omitempty" json:"transaction_mode,omitempty"`
	PaymentType         string              `dynamodbav:"PaymentType,omitempty" json:"payment_type,omitempty"`
	PaymentDetails      string              `dynamodbav:"PaymentDetails,omitempty" json:"payment_details,omitempty"`
	Amount              *float64            `dynamodbav:"Amount,omitempty" json:"amount,omitempty"`
	ScamDateTime        *time.Time          `dynamodbav:"ScamDateTime,omitempty" json:"scam_date_time,omitempty"`
	MobileNumbers       []string            `dynamodbav:"MobilNumbers,omitempty,stringset" json:"mobile_numbers,omitempty"`
	AnonymityPreference AnonymityPreference `dynamodbav:"AnonymityPreference,omitempty" json:"anonymity_preference,omitempty"`
	ReporterName        string              `dynamodbav:"Name,omitempty" json:"reporter_name,omitempty"`
	ContactNumber       string              `dynamodbav:"ContactNumber,omitempty" json:"contact_number,omitempty"`
	ImageURLs           []string            `dynamodbav:"ImageUrls,omitempty,stringset" json:"image_urls,omitempty"`
	OTP                 int                 `dynamodbav:"Otp,omitempty" json:"-"`
	OTPExpiresAt        *time.Time          `dynamodbav:"OtpExpirationTime,omitempty" json:"-"`
	CreatedAt           time.Time           `dynamodbav:"CreatedAt" json:"created_at"`
	UpdatedAt           *time.Time          `dynamodbav:"UpdatedAt,omitempty" json:"updated_at,omitempty"`
	// Version is bumped by every conditional write to the primary store.
	Version int64 `dynamodbav:"Version" json:"version"`
}

// IsApproved is derived from Status and never stored.
func (p *Post) IsApproved() bool { return p.Status == StatusApproved }

// IsSettled is derived from Status and never stored.
func (p *Post) IsSettled() bool { return p.Status == StatusSettled }

// IsIndexable reports whether the post belongs in the search index.
// Settled reports stay searchable with their new status.
func (p *Post) IsIndexable() bool { return p.IsApproved() || p.IsSettled() }

// HasOTP reports whether a one-time code is currently issued for the post.
func (p *Post) HasOTP() bool { return p.OTP != 0 && p.OTPExpiresAt != nil }

// ClearOTP removes any issued one-time code so it cannot be replayed.
func (p *Post) ClearOTP() {
	p.OTP = 0
	p.OTPExpiresAt = nil
}

// Clone returns a deep copy so callers can mutate without touching a snapshot.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	c := *p
	if p.Amount != nil {
		v := *p.Amount
		c.Amount = &v
	}
	if p.ScamDateTime != nil {
		v := *p.ScamDateTime
		c.ScamDateTime = &v
	}
	if p.OTPExpiresAt != nil {
		v := *p.OTPExpiresAt
		c.OTPExpiresAt = &v
	}
	if p.UpdatedAt != nil {
		v := *p.UpdatedAt
		c.UpdatedAt = &v
	}
	c.MobileNumbers = append([]string(nil), p.MobileNumbers...)
	c.ImageURLs = append([]string(nil), p.ImageURLs...)
	return &c
}

// Projection builds the search document for the post. The reporter's name is
// withheld for anonymous reports; OTP and contact fields never leave the primary store.
func (p *Post) Projection(indexedAt time.Time) *IndexedPost {
	doc := &IndexedPost{
		ID:              p.ID,
		Status:          p.Status,
		ScamType:        p.ScamType,
		Title:           p.Title,
		Description:     p.Description,
		TransactionMode: p.TransactionMode,
		PaymentType:     p.PaymentType,
		PaymentDetails:  p.PaymentDetails,
		MobileNumbers:   StringList(p.MobileNumbers),
		Amount:          p.Amount,
		ScamDateTime:    p.ScamDateTime,
		CreatedAt:       p.CreatedAt,
		IndexedAt:       indexedAt,
	}
	if p.AnonymityPreference != AnonymityAnonymous {
		doc.ReporterName = p.ReporterName
	}
	return doc
}

// AdminView returns a copy that is safe to expose to moderators.
func (p *Post) AdminView() *Post {
	c := p.Clone()
	c.ClearOTP()
	return c
}

// InitPostRef is the slice of an Init post the reconciliation sweep needs.
type InitPostRef struct {
	ID        string    `dynamodbav:"Id"`
	ImageURLs []string  `dynamodbav:"ImageUrls,omitempty,stringset"`
	CreatedAt time.Time `dynamodbav:"CreatedAt"`
}

// PostPage is one page of an admin listing from the primary store.
type PostPage struct {
	Items           []*Post `json:"items"`
	PaginationToken string  `json:"pagination_token,omitempty"`
}
