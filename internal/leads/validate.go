// Copyright 2024 Korena Digital Solutions
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package leads

import (
	"errors"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validation messages shown on the contact form
const (
	MsgName            = "Name must be at least 2 characters"
	MsgEmail           = "Please enter a valid email address"
	MsgInterest        = "Please select an area of interest"
	MsgMessage         = "Please provide more details about your requirements"
	MsgConsent         = "You must agree to our privacy policy"
	MsgBlockedDomain   = "Please use a valid business email address"
	MsgInvalidHoneypot = "Invalid submission"
	MsgInvalid         = "Invalid submission"
)

// BlockedEmailDomains are throwaway or placeholder domains rejected outright
var BlockedEmailDomains = []string{
	"test.com",
	"example.com",
	"fake.com",
	"invalid.com",
	"tempmail.com",
}

var fieldMessages = map[string]string{
	"Name":     MsgName,
	"Email":    MsgEmail,
	"Interest": MsgInterest,
	"Message":  MsgMessage,
	"Consent":  MsgConsent,
}

// Validator checks submissions before anything leaves the process
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate returns the user-facing message for the first failing rule, or
// the empty string when the submission is acceptable
func (v *Validator) Validate(s Submission) string {
	if err := v.validate.Struct(s); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			if msg, ok := fieldMessages[fieldErrs[0].StructField()]; ok {
				return msg
			}
		}
		return MsgInvalid
	}

	if !IsValidEmailDomain(s.Email) {
		return MsgBlockedDomain
	}
	if !ValidHoneypot(s.Website) {
		return MsgInvalidHoneypot
	}

	return ""
}

// IsValidEmailDomain reports whether the address has a domain outside BlockedEmailDomains
func IsValidEmailDomain(email string) bool {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	return !slices.Contains(BlockedEmailDomains, domain)
}

// ValidHoneypot reports whether the hidden field was left empty
func ValidHoneypot(value string) bool {
	return value == ""
}
