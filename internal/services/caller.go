package services

import "strconv"

// Caller identifies who is asking. Actor is the authenticated service and is
// what the audit log records. EndUser is the person the service acts for.
type Caller struct {
	Actor   string
	EndUser string
}

// RateSubject is the rate-limit subject. End users are counted separately and
// scoped to their actor; a caller without an end user is counted as the actor.
func (c Caller) RateSubject() string {
	if c.EndUser == "" {
		return c.Actor
	}
	return strconv.Itoa(len(c.Actor)) + ":" + c.Actor + "/" + c.EndUser
}
