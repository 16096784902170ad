// Package schema validates record payloads against CUE definitions.
//
// Schemas live under a top-level "resource" struct, one field per resource
// key:
//
//	resource: tasks: {
//		title:     string & !=""
//		done?:     bool
//		priority?: int & >=0 & <=5
//	}
//
// A record is valid when its JSON form (id included) unifies with its
// resource's definition and the result is concrete. Structs are open
// unless the schema closes them. Resources without a definition accept
// any record.
package schema
