package model

// EntityRow is one database row keyed by column name.
type EntityRow map[string]interface{}
