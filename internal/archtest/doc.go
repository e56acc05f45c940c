// Package archtest holds the module-wide import layering checks. It has no
// runtime code.
package archtest
