package capi

import (
	"github.com/ignite/pixelrelay/internal/domain"
)

// BuildEvent maps a tracked event onto the platform's event shape.
func BuildEvent(e domain.TrackedEvent) ServerEvent {
	se := ServerEvent{
		EventName:      string(e.EventName),
		EventTime:      e.EventTime.Unix(),
		EventID:        e.EventID,
		EventSourceURL: e.SourceURL,
		ActionSource:   ActionSource,
		UserData:       buildUserData(e.UserData),
	}
	if !e.CustomData.IsEmpty() {
		cd := CustomData(*e.CustomData)
		se.CustomData = &cd
	}
	// Events without a client id still need one for platform-side dedup
	// against the browser pixel.
	if se.EventID == "" {
		se.EventID = e.ID
	}
	return se
}

// BuildRequest assembles one call's body for ch.
func BuildRequest(ch domain.Channel, events []domain.TrackedEvent) Request {
	data := make([]ServerEvent, 0, len(events))
	for _, e := range events {
		data = append(data, BuildEvent(e))
	}
	return Request{
		Data:          data,
		AccessToken:   ch.AccessToken,
		TestEventCode: ch.TestEventCode,
	}
}

func buildUserData(u domain.HashedUserData) UserData {
	return UserData{
		Em:              u.Emails,
		Ph:              u.Phones,
		Fn:              one(u.FirstName),
		Ln:              one(u.LastName),
		Ge:              one(u.Gender),
		Db:              one(u.DateOfBirth),
		Ct:              one(u.City),
		St:              one(u.State),
		Zp:              one(u.Zip),
		Country:         one(u.Country),
		ExternalID:      one(u.ExternalID),
		ClientIPAddress: u.ClientIP,
		ClientUserAgent: u.UserAgent,
		Fbc:             u.ClickID,
		Fbp:             u.BrowserID,
		SubscriptionID:  u.SubscriptionID,
	}
}

func one(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}
