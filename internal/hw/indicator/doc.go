// Package indicator drives physical feedback for the camera session.
//
// LED mirrors the session events on a GPIO output so that anyone in front
// of the camera can see when it is in use and when a still is taken.
package indicator
