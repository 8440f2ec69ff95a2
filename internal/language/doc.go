// Package language normalizes language codes found in media stream tags and
// configuration onto ISO 639 using golang.org/x/text/language.
package language
