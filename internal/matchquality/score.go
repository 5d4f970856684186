package matchquality

import (
	"strings"

	"github.com/ignite/pixelrelay/internal/domain"
)

// Score is the authoritative server-side score of an enriched bundle.
func Score(u domain.HashedUserData) int {
	var p Presence
	if len(u.Emails) > 0 {
		p.Has[Email] = true
		p.ExtraEmails = len(u.Emails) - 1
	}
	if len(u.Phones) > 0 {
		p.Has[Phone] = true
		p.ExtraPhones = len(u.Phones) - 1
	}
	p.set(ExternalID, u.ExternalID)
	p.set(ClickID, u.ClickID)
	p.set(FirstName, u.FirstName)
	p.set(LastName, u.LastName)
	p.set(BrowserID, u.BrowserID)
	p.set(IP, u.ClientIP)
	p.set(City, u.City)
	p.set(Zip, u.Zip)
	p.set(DateOfBirth, u.DateOfBirth)
	p.set(State, u.State)
	p.set(Country, u.Country)
	p.set(Gender, u.Gender)
	p.set(UserAgent, u.UserAgent)
	return p.compute()
}

// Estimate scores a client payload before it is sent. It only sees what the
// page captured, so it may be lower than the server's Score after
// enrichment. Secondary list entries equal to the primary are not counted.
func Estimate(p domain.UserDataPayload) int {
	var pr Presence
	emails := distinct(p.Email, p.Emails)
	phones := distinct(p.Phone, p.Phones)
	if emails > 0 {
		pr.Has[Email] = true
		pr.ExtraEmails = emails - 1
	}
	if phones > 0 {
		pr.Has[Phone] = true
		pr.ExtraPhones = phones - 1
	}
	pr.set(ExternalID, strings.TrimSpace(p.ExternalID))
	pr.set(ClickID, strings.TrimSpace(p.ClickID))
	pr.set(FirstName, strings.TrimSpace(p.FirstName))
	pr.set(LastName, strings.TrimSpace(p.LastName))
	pr.set(BrowserID, strings.TrimSpace(p.BrowserID))
	pr.set(IP, strings.TrimSpace(p.ClientIP))
	pr.set(City, strings.TrimSpace(p.City))
	pr.set(Zip, strings.TrimSpace(p.Zip))
	pr.set(DateOfBirth, strings.TrimSpace(p.DateOfBirth))
	pr.set(State, strings.TrimSpace(p.State))
	pr.set(Country, strings.TrimSpace(p.Country))
	pr.set(Gender, strings.TrimSpace(p.Gender))
	pr.set(UserAgent, strings.TrimSpace(p.UserAgent))
	return pr.compute()
}

func distinct(first string, rest []string) int {
	seen := map[string]bool{}
	for _, v := range append([]string{first}, rest...) {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			seen[v] = true
		}
	}
	return len(seen)
}
