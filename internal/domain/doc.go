// Package domain splits space into one region per rank by recursive
// bisection of a gathered particle sample.
//
// Every rank computes the partition from the same gathered sample, so the
// result is identical everywhere without a broadcast. Regions are half-open
// on every axis: a particle exactly on a cut belongs to the upper side.
package domain
