// Package mtproto implements tenant sessions and login connections on top of
// the gotd MTProto client.
//
// Peer ids follow the usual bot-API convention: users are positive, basic
// groups are -id and channels/supergroups are -100<id>.
package mtproto
