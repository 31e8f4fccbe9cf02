package googleapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Name is a contact's structured name.
type Name struct {
	DisplayName string `json:"displayName,omitempty"`
	GivenName   string `json:"givenName,omitempty"`
	FamilyName  string `json:"familyName,omitempty"`
}

// TypedValue is a single-valued contact field (email, phone).
type TypedValue struct {
	Value string `json:"value,omitempty"`
}

// Person is a People API contact.
type Person struct {
	ResourceName   string       `json:"resourceName,omitempty"`
	Names          []Name       `json:"names,omitempty"`
	EmailAddresses []TypedValue `json:"emailAddresses,omitempty"`
	PhoneNumbers   []TypedValue `json:"phoneNumbers,omitempty"`
}

// DisplayName returns the contact's primary display name.
func (p *Person) DisplayName() string {
	if len(p.Names) == 0 {
		return ""
	}
	return p.Names[0].DisplayName
}

type personList struct {
	Connections   []Person `json:"connections"`
	NextPageToken string   `json:"nextPageToken"`
}

const personFields = "names,emailAddresses,phoneNumbers"

// ListContacts returns the user's contacts.
func (c *Client) ListContacts(ctx context.Context, token string, pageSize int) ([]Person, error) {
	q := url.Values{}
	q.Set("personFields", personFields)
	if pageSize > 0 {
		q.Set("pageSize", fmt.Sprint(pageSize))
	}
	var page personList
	u := fmt.Sprintf("%s/people/me/connections?%s", c.peopleBaseURL, q.Encode())
	if err := c.do(ctx, token, http.MethodGet, u, nil, &page); err != nil {
		return nil, err
	}
	return page.Connections, nil
}

// GetContact fetches one contact by resource name (people/c123).
func (c *Client) GetContact(ctx context.Context, token, resourceName string) (*Person, error) {
	var person Person
	u := fmt.Sprintf("%s/%s?personFields=%s", c.peopleBaseURL, resourceName, personFields)
	if err := c.do(ctx, token, http.MethodGet, u, nil, &person); err != nil {
		return nil, err
	}
	return &person, nil
}

// CreateContact inserts a new contact.
func (c *Client) CreateContact(ctx context.Context, token string, person *Person) (*Person, error) {
	var created Person
	u := c.peopleBaseURL + "/people:createContact"
	if err := c.do(ctx, token, http.MethodPost, u, person, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// DeleteContact removes a contact by resource name.
func (c *Client) DeleteContact(ctx context.Context, token, resourceName string) error {
	u := fmt.Sprintf("%s/%s:deleteContact", c.peopleBaseURL, resourceName)
	return c.do(ctx, token, http.MethodDelete, u, nil, nil)
}

// UpdateContact patches an existing contact's core fields.
func (c *Client) UpdateContact(ctx context.Context, token, resourceName string, person *Person) (*Person, error) {
	var updated Person
	u := fmt.Sprintf("%s/%s:updateContact?updatePersonFields=%s", c.peopleBaseURL, resourceName, personFields)
	if err := c.do(ctx, token, http.MethodPatch, u, person, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}
