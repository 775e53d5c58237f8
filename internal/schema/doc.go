// ABOUTME: Package schema validates tool arguments against JSON-Schema input descriptions.
// ABOUTME: Covers the subset tool servers actually publish and degrades gracefully otherwise.

// Package schema compiles the inputSchema published by a tool server into a
// Validator that checks call arguments before execution.
//
// # Supported Keywords
//
// Types string, number, integer, boolean, null, array and object are
// supported, including type arrays (treated as a union). Strings honour
// enum/const, minLength/maxLength (counted in characters), pattern and the
// formats email, uri, uuid, date and date-time. Numbers honour minimum,
// maximum and their exclusive variants. Arrays honour items, minItems and
// maxItems. Objects enforce required properties and validate declared ones;
// undeclared properties are passed through. oneOf and anyOf accept the first
// alternative that matches; allOf requires all members.
//
// # Degradation
//
// Compilation never fails. $ref, tuple-style items, unknown types and
// patterns the regexp engine cannot compile become permissive nodes and are
// recorded as warnings on the Validator. The boolean schema false rejects
// every value.
package schema
