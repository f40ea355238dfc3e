package docstore

import "strings"

// Document paths mirror the tree the dashboard keeps per user:
//
//	users/{uid}/businesses/{bid}
//	users/{uid}/businesses/{bid}/transactions/{tid}
//	users/{uid}/savings_rules/current
//	users/{uid}/settings/general

func BusinessCollection(userID string) string {
	return "users/" + userID + "/businesses"
}

func BusinessPath(userID, businessID string) string {
	return BusinessCollection(userID) + "/" + businessID
}

func EntryCollection(userID, businessID string) string {
	return BusinessPath(userID, businessID) + "/transactions"
}

func EntryPath(userID, businessID, entryID string) string {
	return EntryCollection(userID, businessID) + "/" + entryID
}

func SavingsRulesPath(userID string) string {
	return "users/" + userID + "/savings_rules/current"
}

func SettingsPath(userID string) string {
	return "users/" + userID + "/settings/general"
}

// DocID returns the last segment of a document path.
func DocID(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Parent returns the collection a document path belongs to.
func Parent(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return ""
}
