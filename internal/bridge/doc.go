// Package bridge implements mailbox.RemoteClient over IMAP, targeting the
// Proton Mail Bridge.
//
// A Client holds a single IMAP session. Calls are serialized and rate
// limited; a call whose context ends first tears the session down, and the
// next Connect starts a fresh one.
//
// Message ids are the RFC 5322 Message-ID. Messages without one, and any
// further copy of a Message-ID already seen at another location, get the
// synthetic id "folder:uidvalidity:uid". The client keeps an in-memory
// index from id to location, refreshed by every fetch and after moves.
//
// Folder cursors have the form "uidvalidity:lastuid". A cursor whose
// UIDVALIDITY no longer matches falls back to a full listing.
package bridge
