// Package pricing derives currency exchange rates from the asking prices
// players write into item and stash notes, and values every priced item in
// Chaos Orbs.
//
// A pass of the Driver reads item rows updated since the last processed
// sale, parses their notes into sales, recomputes the weighted summary of
// each currency pair it sees and resolves each sale's value through at most
// one intermediate currency.
package pricing
