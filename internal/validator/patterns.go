package validator

import "regexp"

// Disallowed personal-data patterns in outbound replies. The agent must
// never echo payment or government identifiers back to the user.
var piiPatterns = []*regexp.Regexp{
	// Payment card numbers: 13–19 digits, optionally separated.
	regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`),
	// Brazilian CPF: 000.000.000-00.
	regexp.MustCompile(`\b\d{3}\.\d{3}\.\d{3}-\d{2}\b`),
	// US SSN: 000-00-0000.
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	// Passport-like: two letters plus 6–9 digits, explicit keyword.
	regexp.MustCompile(`(?i)\bpassport\s*(?:no\.?|number)?\s*[:#]?\s*[A-Z]{1,2}\d{6,9}\b`),
}

// Prohibited promise categories: the agent may not commit to prices,
// discounts, or deadlines on behalf of the business.
var promisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bguarantee[ds]?\b.{0,40}\b(price|discount|rate|refund)\b`),
	regexp.MustCompile(`(?i)\b(price|discount|rate)\b.{0,40}\bguarantee[ds]?\b`),
	regexp.MustCompile(`(?i)\bfree of charge\b`),
	regexp.MustCompile(`(?i)\b\d{1,3}\s?%\s?(off|discount)\b`),
	regexp.MustCompile(`(?i)\bwe (?:will|can) (?:deliver|finish|complete|launch)\b.{0,40}\bby\b`),
	regexp.MustCompile(`(?i)\b(?:by|within) (?:tomorrow|tonight|end of (?:day|week|month)|\d+\s?(?:hours?|days?|weeks?))\b.{0,40}\bguarantee[ds]?\b`),
	regexp.MustCompile(`(?i)\bno later than\b`),
}

// ContainsPII reports whether text matches a disallowed personal-data
// pattern.
func ContainsPII(text string) bool {
	for _, re := range piiPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// ContainsProhibitedPromise reports whether text commits to a price or
// deadline.
func ContainsProhibitedPromise(text string) bool {
	for _, re := range promisePatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
